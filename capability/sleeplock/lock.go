// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sleeplock

import (
	"context"
	"fmt"
	"sync"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/dbusutil"
)

// Lock implements [capability.SleepLock]. Start and Stop are
// idempotent.
type Lock struct {
	inhibitor

	mutex sync.Mutex
	fd    int
	held  bool
}

// NewLock returns a Lock that talks to logind on bus.
func NewLock(bus dbusutil.Bus) *Lock {
	return &Lock{inhibitor: newInhibitor(bus), fd: -1}
}

func (l *Lock) Start(ctx context.Context) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.held {
		return nil
	}
	fd, err := l.inhibit(ctx, "idle", "Sleep mode requested by the operator", "block")
	if err != nil {
		if dbusutil.IsAccessDenied(err) {
			return capability.Errorf(capability.PermissionDenied, "sleep.start", "Not allowed to inhibit idle")
		}
		return capability.Wrap(capability.SleepError, "sleep.start", err)
	}
	l.fd, l.held = fd, true
	return nil
}

func (l *Lock) Stop(ctx context.Context) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if !l.held {
		return nil
	}
	fd := l.fd
	l.fd, l.held = -1, false
	if err := l.closeFD(fd); err != nil {
		return capability.Wrap(capability.SleepError, "sleep.stop", fmt.Errorf("releasing inhibitor: %w", err))
	}
	return nil
}

// Held reports whether the lock is currently taken.
func (l *Lock) Held() bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.held
}
