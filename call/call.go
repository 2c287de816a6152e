// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package call turns high-priority pushes into a ringing alarm. A push
// announces an incoming call carrying the alarm's sound and message;
// answering starts the alarm with them, declining silences it. Every
// push also wakes the connection if it has dropped.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/connection"
	"github.com/omcli/omcli-device/protocol"
)

// ErrNoCall is returned by Answer when no call is pending.
var ErrNoCall = errors.New("no incoming call")

const defaultSound = "default"

// Link is the slice of the connection manager the coordinator needs.
type Link interface {
	Status() connection.Status
	Connect() error
}

// Call is a pending incoming call.
type Call struct {
	Sound   string `json:"sound,omitempty" cbor:"sound,omitempty"`
	Message string `json:"message,omitempty" cbor:"message,omitempty"`
}

// Title is the caller name shown for the call.
func (c Call) Title() string {
	if c.Message != "" {
		return c.Message
	}
	return "Alarm"
}

// Config holds the coordinator's collaborators. Alarm and Link are
// required; Notifier may be nil on a headless device.
type Config struct {
	Alarm    capability.Alarm
	Notifier capability.Notifier
	Link     Link
	Logger   *slog.Logger
}

// Coordinator tracks at most one pending call.
type Coordinator struct {
	config Config

	mutex   sync.Mutex
	pending *Call
}

// New creates a Coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Alarm == nil {
		return nil, errors.New("call: Alarm is required")
	}
	if config.Link == nil {
		return nil, errors.New("call: Link is required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Coordinator{config: config}, nil
}

// Incoming records a call announced by a push and rings the user. The
// params are the push's command parameters; "sound" and "message" are
// both optional. A newer call replaces one that was never answered.
func (c *Coordinator) Incoming(ctx context.Context, params protocol.Object) (Call, error) {
	call := Call{
		Sound:   stringParam(params, "sound"),
		Message: stringParam(params, "message"),
	}

	c.mutex.Lock()
	c.pending = &call
	c.mutex.Unlock()

	c.config.Logger.Info("incoming call", "sound", call.Sound)
	c.wake()

	if c.config.Notifier != nil {
		if err := c.config.Notifier.Notify(ctx, call.Title(), "Incoming alarm call", capability.PriorityCritical); err != nil {
			return call, fmt.Errorf("announcing call: %w", err)
		}
	}
	return call, nil
}

// Wake handles a push payload. A payload with an "omcli" object is a
// call push and is passed to Incoming with its "params"; any other
// payload only wakes the connection.
func (c *Coordinator) Wake(ctx context.Context, payload protocol.Object) error {
	if envelope, ok := payload["omcli"].AsObject(); ok {
		params, _ := envelope["params"].AsObject()
		_, err := c.Incoming(ctx, params)
		return err
	}
	c.wake()
	return nil
}

// Answer starts the alarm for the pending call.
func (c *Coordinator) Answer(ctx context.Context) error {
	c.mutex.Lock()
	call := c.pending
	c.pending = nil
	c.mutex.Unlock()
	if call == nil {
		return ErrNoCall
	}

	sound := call.Sound
	if sound == "" {
		sound = defaultSound
	}
	c.config.Logger.Info("call answered")
	if err := c.config.Alarm.Start(ctx, sound, call.Message); err != nil {
		return fmt.Errorf("starting alarm: %w", err)
	}
	return nil
}

// Decline ends the call. Whatever alarm is ringing stops, whether or
// not a call was pending.
func (c *Coordinator) Decline(ctx context.Context) error {
	c.mutex.Lock()
	c.pending = nil
	c.mutex.Unlock()

	c.config.Logger.Info("call declined")
	if err := c.config.Alarm.Stop(ctx); err != nil {
		return fmt.Errorf("stopping alarm: %w", err)
	}
	return nil
}

// Pending returns the call awaiting an answer.
func (c *Coordinator) Pending() (Call, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.pending == nil {
		return Call{}, false
	}
	return *c.pending, true
}

func (c *Coordinator) wake() {
	if c.config.Link.Status().State != connection.Disconnected {
		return
	}
	if err := c.config.Link.Connect(); err != nil {
		c.config.Logger.Warn("wake could not connect", "error", err)
	}
}

func stringParam(params protocol.Object, key string) string {
	text, _ := params[key].AsString()
	return text
}
