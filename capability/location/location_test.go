// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package location

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/clock"
	"github.com/omcli/omcli-device/lib/dbusutil"
	"github.com/omcli/omcli-device/lib/testutil"
)

const (
	clientPath = dbus.ObjectPath("/org/freedesktop/GeoClue2/Client/3")
	fixPath    = dbus.ObjectPath("/org/freedesktop/GeoClue2/Location/7")
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newGeoClueBus answers the client lifecycle. When emit is true,
// Start publishes a fix at fixPath.
func newGeoClueBus(emit bool) *dbusutil.FakeBus {
	bus := dbusutil.NewFakeBus()
	bus.Reply(managerInterface+".CreateClient", clientPath)
	bus.Reply(managerInterface + ".DeleteClient")
	bus.Reply("org.freedesktop.DBus.Properties.Set")
	bus.Reply(clientInterface + ".Stop")
	bus.Handle(clientInterface+".Start", func(dbusutil.FakeCall) ([]any, error) {
		if emit {
			bus.Emit(clientPath, locationUpdated, dbus.ObjectPath("/"), fixPath)
		}
		return nil, nil
	})
	bus.Handle("org.freedesktop.DBus.Properties.Get", func(call dbusutil.FakeCall) ([]any, error) {
		values := map[string]any{
			"Latitude":  52.52,
			"Longitude": 13.405,
			"Accuracy":  25.0,
			"Timestamp": []any{uint64(1772366400), uint64(500000)},
		}
		return []any{dbus.MakeVariant(values[call.Args[1].(string)])}, nil
	})
	return bus
}

func TestGeoClueLocate(t *testing.T) {
	bus := newGeoClueBus(true)
	locator := NewGeoClue(bus, clock.Fake(epoch), "omcli-device", 30*time.Second)

	fix, err := locator.Locate(context.Background(), capability.AccuracyPrecise)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if fix.Latitude != 52.52 || fix.Longitude != 13.405 || fix.Accuracy != 25 {
		t.Errorf("fix = %+v", fix)
	}
	want := time.Unix(1772366400, 500000*int64(time.Microsecond)).UTC()
	if !fix.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", fix.Timestamp, want)
	}

	var level any
	for _, call := range bus.CallsTo("org.freedesktop.DBus.Properties.Set") {
		if call.Args[1] == "RequestedAccuracyLevel" {
			level = call.Args[2].(dbus.Variant).Value()
		}
	}
	if level != accuracyExact {
		t.Errorf("RequestedAccuracyLevel = %v, want %d", level, accuracyExact)
	}
	if len(bus.CallsTo(clientInterface+".Stop")) != 1 || len(bus.CallsTo(managerInterface+".DeleteClient")) != 1 {
		t.Error("client was not stopped and deleted")
	}
	if n := bus.Subscribers(locationUpdated); n != 0 {
		t.Errorf("%d LocationUpdated subscriptions left behind", n)
	}
}

func TestGeoClueCoarseUsesCityAccuracy(t *testing.T) {
	bus := newGeoClueBus(true)
	locator := NewGeoClue(bus, clock.Fake(epoch), "omcli-device", time.Second)
	if _, err := locator.Locate(context.Background(), capability.AccuracyCoarse); err != nil {
		t.Fatalf("Locate: %v", err)
	}
	for _, call := range bus.CallsTo("org.freedesktop.DBus.Properties.Set") {
		if call.Args[1] == "RequestedAccuracyLevel" && call.Args[2].(dbus.Variant).Value() != accuracyCity {
			t.Errorf("RequestedAccuracyLevel = %v, want %d", call.Args[2], accuracyCity)
		}
	}
}

func TestGeoClueTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	locator := NewGeoClue(newGeoClueBus(false), fake, "omcli-device", 30*time.Second)

	result := make(chan error, 1)
	go func() {
		_, err := locator.Locate(context.Background(), capability.AccuracyCoarse)
		result <- err
	}()

	fake.WaitForTimers(1)
	fake.Advance(30 * time.Second)
	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Locate")
	if code, _ := capability.CodeOf(err); code != capability.LocationError {
		t.Fatalf("code = %v (err %v), want LOCATION_ERROR", code, err)
	}
}

func TestGeoClueAccessDenied(t *testing.T) {
	bus := newGeoClueBus(true)
	bus.Fail(clientInterface+".Start", dbusutil.ErrorAccessDenied)

	_, err := NewGeoClue(bus, clock.Fake(epoch), "omcli-device", time.Second).Locate(context.Background(), capability.AccuracyCoarse)
	if code, _ := capability.CodeOf(err); code != capability.PermissionDenied {
		t.Fatalf("code = %v (err %v), want PERMISSION_DENIED", code, err)
	}
}

func TestStatic(t *testing.T) {
	locator := &Static{Latitude: 1.5, Longitude: -2.25, Accuracy: 100, Clock: clock.Fake(epoch)}
	fix, err := locator.Locate(context.Background(), capability.AccuracyPrecise)
	if err != nil {
		t.Fatal(err)
	}
	if fix.Latitude != 1.5 || fix.Longitude != -2.25 || fix.Accuracy != 100 || !fix.Timestamp.Equal(epoch) {
		t.Errorf("fix = %+v", fix)
	}
}
