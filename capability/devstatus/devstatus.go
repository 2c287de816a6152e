// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package devstatus reports battery state from UPower's display
// device, the aggregate the desktop shell shows.
package devstatus

import (
	"context"
	"math"

	"github.com/godbus/dbus/v5"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/dbusutil"
)

const (
	upowerService = "org.freedesktop.UPower"
	displayDevice = dbus.ObjectPath("/org/freedesktop/UPower/devices/DisplayDevice")
	deviceIface   = "org.freedesktop.UPower.Device"
)

// UPower device states that count as charging.
const (
	stateCharging     uint32 = 1
	stateFullyCharged uint32 = 4
)

// Reader implements [capability.StatusReader]. A device without a
// battery reports Battery -1. Silent mode has no Linux equivalent and
// is always false.
type Reader struct {
	bus dbusutil.Bus
}

// New returns a Reader that queries UPower on bus.
func New(bus dbusutil.Bus) *Reader {
	return &Reader{bus: bus}
}

func (r *Reader) Status(ctx context.Context) (capability.DeviceStatus, error) {
	present, err := r.property(ctx, "IsPresent")
	if err != nil {
		return capability.DeviceStatus{}, err
	}
	if isPresent, _ := present.Value().(bool); !isPresent {
		return capability.DeviceStatus{Battery: -1}, nil
	}

	percentage, err := r.property(ctx, "Percentage")
	if err != nil {
		return capability.DeviceStatus{}, err
	}
	state, err := r.property(ctx, "State")
	if err != nil {
		return capability.DeviceStatus{}, err
	}

	level, ok := percentage.Value().(float64)
	if !ok {
		return capability.DeviceStatus{}, capability.Errorf(capability.StatusError, "device.status",
			"UPower Percentage has type %s", percentage.Signature())
	}
	code, _ := state.Value().(uint32)
	return capability.DeviceStatus{
		Battery:  int(math.Round(level)),
		Charging: code == stateCharging || code == stateFullyCharged,
	}, nil
}

func (r *Reader) property(ctx context.Context, name string) (dbus.Variant, error) {
	value, err := dbusutil.Property(ctx, r.bus, upowerService, displayDevice, deviceIface, name)
	if err != nil {
		if dbusutil.IsServiceUnknown(err) {
			return dbus.Variant{}, capability.Errorf(capability.StatusError, "device.status", "UPower is not running")
		}
		return dbus.Variant{}, capability.Wrap(capability.StatusError, "device.status", err)
	}
	return value, nil
}
