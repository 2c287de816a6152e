// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/clock"
	"github.com/omcli/omcli-device/lib/dbusutil"
)

const (
	geoclueService   = "org.freedesktop.GeoClue2"
	managerPath      = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerInterface = "org.freedesktop.GeoClue2.Manager"
	clientInterface  = "org.freedesktop.GeoClue2.Client"
	fixInterface     = "org.freedesktop.GeoClue2.Location"

	locationUpdated = clientInterface + ".LocationUpdated"
)

// GeoClue accuracy levels.
const (
	accuracyCity  uint32 = 4
	accuracyExact uint32 = 8
)

// GeoClue implements [capability.Locator] with GeoClue2.
type GeoClue struct {
	bus       dbusutil.Bus
	clock     clock.Clock
	desktopID string
	timeout   time.Duration
}

// NewGeoClue returns a locator that identifies itself to GeoClue's
// authorization agent as desktopID and gives up on a fix after
// timeout.
func NewGeoClue(bus dbusutil.Bus, clk clock.Clock, desktopID string, timeout time.Duration) *GeoClue {
	return &GeoClue{bus: bus, clock: clk, desktopID: desktopID, timeout: timeout}
}

// Locate creates a GeoClue client, waits for its first fix, and tears
// the client down again.
func (g *GeoClue) Locate(ctx context.Context, accuracy capability.Accuracy) (capability.Location, error) {
	level := accuracyCity
	if accuracy == capability.AccuracyPrecise {
		level = accuracyExact
	}

	var client dbus.ObjectPath
	if err := g.bus.Call(ctx, geoclueService, managerPath, managerInterface+".CreateClient").Store(&client); err != nil {
		return capability.Location{}, g.classify("creating GeoClue client", err)
	}
	defer g.bus.Call(context.WithoutCancel(ctx), geoclueService, managerPath, managerInterface+".DeleteClient", client)

	if err := dbusutil.SetProperty(ctx, g.bus, geoclueService, client, clientInterface, "DesktopId", g.desktopID); err != nil {
		return capability.Location{}, g.classify("registering with GeoClue", err)
	}
	if err := dbusutil.SetProperty(ctx, g.bus, geoclueService, client, clientInterface, "RequestedAccuracyLevel", level); err != nil {
		return capability.Location{}, g.classify("requesting accuracy", err)
	}

	signals, unsubscribe, err := g.bus.Subscribe(client, clientInterface, "LocationUpdated")
	if err != nil {
		return capability.Location{}, g.classify("watching for fixes", err)
	}
	defer unsubscribe()

	if err := g.bus.Call(ctx, geoclueService, client, clientInterface+".Start").Err; err != nil {
		return capability.Location{}, g.classify("starting GeoClue client", err)
	}
	defer g.bus.Call(context.WithoutCancel(ctx), geoclueService, client, clientInterface+".Stop")

	deadline := g.clock.After(g.timeout)
	for {
		select {
		case signal := <-signals:
			if signal.Path != client || signal.Name != locationUpdated || len(signal.Body) < 2 {
				continue
			}
			fix, ok := signal.Body[1].(dbus.ObjectPath)
			if !ok {
				continue
			}
			return g.read(ctx, fix)
		case <-deadline:
			return capability.Location{}, capability.Errorf(capability.LocationError, "location.get",
				"No location fix within %s", g.timeout)
		case <-ctx.Done():
			return capability.Location{}, capability.Wrap(capability.LocationError, "location.get", ctx.Err())
		}
	}
}

// read loads one Location object's properties.
func (g *GeoClue) read(ctx context.Context, fix dbus.ObjectPath) (capability.Location, error) {
	var location capability.Location
	fields := []struct {
		name   string
		target *float64
	}{
		{"Latitude", &location.Latitude},
		{"Longitude", &location.Longitude},
		{"Accuracy", &location.Accuracy},
	}
	for _, field := range fields {
		value, err := dbusutil.Property(ctx, g.bus, geoclueService, fix, fixInterface, field.name)
		if err != nil {
			return capability.Location{}, g.classify("reading fix", err)
		}
		number, ok := value.Value().(float64)
		if !ok {
			return capability.Location{}, capability.Errorf(capability.LocationError, "location.get",
				"GeoClue %s has type %s", field.name, value.Signature())
		}
		*field.target = number
	}

	location.Timestamp = g.clock.Now()
	if value, err := dbusutil.Property(ctx, g.bus, geoclueService, fix, fixInterface, "Timestamp"); err == nil {
		if stamp, ok := parseTimestamp(value); ok {
			location.Timestamp = stamp
		}
	}
	return location, nil
}

// parseTimestamp decodes GeoClue's (tt) seconds/microseconds pair.
func parseTimestamp(value dbus.Variant) (time.Time, bool) {
	fields, ok := value.Value().([]any)
	if !ok || len(fields) != 2 {
		return time.Time{}, false
	}
	seconds, ok := fields[0].(uint64)
	if !ok {
		return time.Time{}, false
	}
	microseconds, ok := fields[1].(uint64)
	if !ok || seconds == 0 {
		return time.Time{}, false
	}
	return time.Unix(int64(seconds), int64(microseconds)*int64(time.Microsecond)).UTC(), true
}

func (g *GeoClue) classify(step string, err error) error {
	switch {
	case dbusutil.IsAccessDenied(err):
		return capability.Errorf(capability.PermissionDenied, "location.get", "Location access not authorized")
	case dbusutil.IsServiceUnknown(err):
		return capability.Errorf(capability.LocationError, "location.get", "GeoClue is not running")
	}
	return capability.Wrap(capability.LocationError, "location.get", fmt.Errorf("%s: %w", step, err))
}
