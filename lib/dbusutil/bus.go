// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dbusutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const propertiesInterface = "org.freedesktop.DBus.Properties"

// Standard error names from the bus and from polkit-guarded services.
const (
	ErrorAccessDenied   = "org.freedesktop.DBus.Error.AccessDenied"
	ErrorAuthFailed     = "org.freedesktop.DBus.Error.AuthFailed"
	ErrorServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"
	ErrorNameHasNoOwner = "org.freedesktop.DBus.Error.NameHasNoOwner"
)

// Bus is the part of a D-Bus connection the capabilities use.
type Bus interface {
	// Call invokes method ("interface.Member") on the object at path
	// owned by destination.
	Call(ctx context.Context, destination string, path dbus.ObjectPath, method string, args ...any) *dbus.Call

	// Subscribe delivers signals named iface.member emitted by the
	// object at path. The returned function removes the subscription.
	// The channel may also carry other signals the connection has
	// matched, so receivers filter on Name and Path.
	Subscribe(path dbus.ObjectPath, iface, member string) (<-chan *dbus.Signal, func(), error)
}

// Conn adapts a godbus connection to [Bus].
type Conn struct {
	conn *dbus.Conn
}

// SessionBus connects to the user's session bus.
func SessionBus() (*Conn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// SystemBus connects to the system bus.
func SystemBus() (*Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &Conn{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) Call(ctx context.Context, destination string, path dbus.ObjectPath, method string, args ...any) *dbus.Call {
	return c.conn.Object(destination, path).CallWithContext(ctx, method, 0, args...)
}

func (c *Conn) Subscribe(path dbus.ObjectPath, iface, member string) (<-chan *dbus.Signal, func(), error) {
	options := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember(member),
	}
	if err := c.conn.AddMatchSignal(options...); err != nil {
		return nil, nil, fmt.Errorf("subscribe to %s.%s on %s: %w", iface, member, path, err)
	}
	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)
	cancel := func() {
		c.conn.RemoveSignal(signals)
		c.conn.RemoveMatchSignal(options...)
	}
	return signals, cancel, nil
}

// Property reads one property through org.freedesktop.DBus.Properties.
func Property(ctx context.Context, bus Bus, destination string, path dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	var value dbus.Variant
	err := bus.Call(ctx, destination, path, propertiesInterface+".Get", iface, name).Store(&value)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("get %s.%s: %w", iface, name, err)
	}
	return value, nil
}

// SetProperty writes one property through org.freedesktop.DBus.Properties.
func SetProperty(ctx context.Context, bus Bus, destination string, path dbus.ObjectPath, iface, name string, value any) error {
	call := bus.Call(ctx, destination, path, propertiesInterface+".Set", iface, name, dbus.MakeVariant(value))
	if call.Err != nil {
		return fmt.Errorf("set %s.%s: %w", iface, name, call.Err)
	}
	return nil
}

// ErrorName returns the D-Bus error name carried by err, or "".
func ErrorName(err error) string {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name
	}
	var pointer *dbus.Error
	if errors.As(err, &pointer) && pointer != nil {
		return pointer.Name
	}
	return ""
}

// IsAccessDenied reports whether err is a bus or polkit refusal.
func IsAccessDenied(err error) bool {
	switch ErrorName(err) {
	case ErrorAccessDenied, ErrorAuthFailed, "org.freedesktop.PolicyKit1.Error.NotAuthorized":
		return true
	}
	return false
}

// IsServiceUnknown reports whether err means nothing owns the
// destination name, typically because the service is not installed.
func IsServiceUnknown(err error) bool {
	switch ErrorName(err) {
	case ErrorServiceUnknown, ErrorNameHasNoOwner:
		return true
	}
	return false
}
