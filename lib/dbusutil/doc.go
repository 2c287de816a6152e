// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dbusutil is the thin layer between the device capabilities
// and the freedesktop services they drive (notifications, GeoClue,
// logind, UPower).
//
// Capabilities depend on the [Bus] interface rather than *dbus.Conn so
// tests can answer method calls and deliver signals without a bus
// daemon. [Conn] adapts a real connection.
package dbusutil
