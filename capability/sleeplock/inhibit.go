// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sleeplock

import (
	"context"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/omcli/omcli-device/lib/dbusutil"
)

const (
	logindService   = "org.freedesktop.login1"
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	managerIface    = "org.freedesktop.login1.Manager"
	prepareForSleep = managerIface + ".PrepareForSleep"

	who = "omcli-device"
)

// inhibitor takes logind inhibitor locks. Each lock is a file
// descriptor; closing it releases the lock.
type inhibitor struct {
	bus     dbusutil.Bus
	closeFD func(fd int) error
}

func newInhibitor(bus dbusutil.Bus) inhibitor {
	return inhibitor{bus: bus, closeFD: unix.Close}
}

func (i inhibitor) inhibit(ctx context.Context, what, why, mode string) (int, error) {
	var fd dbus.UnixFD
	err := i.bus.Call(ctx, logindService, logindPath, managerIface+".Inhibit", what, who, why, mode).Store(&fd)
	if err != nil {
		return -1, err
	}
	return int(fd), nil
}
