// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify posts desktop notifications through the freedesktop
// notification service on the session bus.
package notify

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/dbusutil"
)

const (
	serviceName = "org.freedesktop.Notifications"
	objectPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	iface       = "org.freedesktop.Notifications"
)

// Urgency levels from the notification specification.
const (
	urgencyLow      byte = 0
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// Notifier implements [capability.Notifier].
type Notifier struct {
	bus     dbusutil.Bus
	appName string
}

// New returns a Notifier that posts as appName.
func New(bus dbusutil.Bus, appName string) *Notifier {
	return &Notifier{bus: bus, appName: appName}
}

// Notify posts one notification. Critical notifications never expire
// on their own; the others use the server's default timeout.
func (n *Notifier) Notify(ctx context.Context, title, body string, priority capability.Priority) error {
	urgency := urgencyNormal
	expire := int32(-1)
	switch priority {
	case capability.PriorityLow:
		urgency = urgencyLow
	case capability.PriorityCritical:
		urgency = urgencyCritical
		expire = 0
	}
	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(urgency),
	}

	var id uint32
	err := n.bus.Call(ctx, serviceName, objectPath, iface+".Notify",
		n.appName, uint32(0), "", title, body, []string{}, hints, expire,
	).Store(&id)
	switch {
	case err == nil:
		return nil
	case dbusutil.IsAccessDenied(err):
		return capability.Errorf(capability.PermissionDenied, "notify.send", "Notification permission not granted")
	case dbusutil.IsServiceUnknown(err):
		return capability.Errorf(capability.NotifyError, "notify.send", "No notification service is running")
	}
	return capability.Wrap(capability.NotifyError, "notify.send", err)
}

// Probe reports whether a notification server answers. onboard uses it
// to check the capability.
func (n *Notifier) Probe(ctx context.Context) error {
	var name, vendor, version, specVersion string
	err := n.bus.Call(ctx, serviceName, objectPath, iface+".GetServerInformation").
		Store(&name, &vendor, &version, &specVersion)
	if err != nil {
		return capability.Wrap(capability.NotifyError, "notify.probe", err)
	}
	return nil
}
