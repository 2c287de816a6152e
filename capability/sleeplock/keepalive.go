// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sleeplock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/omcli/omcli-device/connection"
	"github.com/omcli/omcli-device/lib/dbusutil"
)

const inhibitTimeout = 5 * time.Second

// KeepAlive implements [connection.KeepAlive].
type KeepAlive struct {
	inhibitor
	logger *slog.Logger
}

// NewKeepAlive returns a KeepAlive that talks to logind on bus.
func NewKeepAlive(bus dbusutil.Bus, logger *slog.Logger) *KeepAlive {
	return &KeepAlive{inhibitor: newInhibitor(bus), logger: logger}
}

type grant struct {
	once    sync.Once
	release func()
}

func (g *grant) Release() { g.once.Do(g.release) }

// Acquire takes a sleep delay inhibitor. revoked is called if the
// system starts suspending while the grant is held.
func (k *KeepAlive) Acquire(revoked func()) (connection.Grant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), inhibitTimeout)
	defer cancel()

	signals, unsubscribe, err := k.bus.Subscribe(logindPath, managerIface, "PrepareForSleep")
	if err != nil {
		return nil, err
	}
	fd, err := k.inhibit(ctx, "sleep", "Holding the server connection", "delay")
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("taking sleep delay inhibitor: %w", err)
	}

	done := make(chan struct{})
	held := &grant{release: func() {
		close(done)
		unsubscribe()
		if err := k.closeFD(fd); err != nil {
			k.logger.Warn("releasing sleep inhibitor failed", "error", err)
		}
	}}

	go func() {
		for {
			select {
			case <-done:
				return
			case signal := <-signals:
				if signal.Name != prepareForSleep || len(signal.Body) == 0 {
					continue
				}
				if starting, _ := signal.Body[0].(bool); !starting {
					continue
				}
				k.logger.Info("system is suspending, releasing keep-alive")
				held.Release()
				if revoked != nil {
					revoked()
				}
				return
			}
		}
	}()
	return held, nil
}
