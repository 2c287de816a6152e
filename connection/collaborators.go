// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"

	"github.com/omcli/omcli-device/protocol"
)

// Credentials is the persistence the Manager needs: the device
// identity and one token per endpoint. lib/credstore provides the
// implementations.
type Credentials interface {
	DeviceID() (string, error)
	Token(endpoint string) (string, bool, error)
	SaveToken(endpoint, token string) error
	DeleteToken(endpoint string) error
	MigrateLegacy(endpoint string) (bool, error)
}

// Settings supplies the endpoint and display name. They are read on
// every connect, so edits to the configuration take effect at the next
// Connect or Reconnect.
type Settings interface {
	Endpoint() string
	DeviceName() string
}

// StaticSettings is a fixed [Settings] value.
type StaticSettings struct {
	URL  string
	Name string
}

func (s StaticSettings) Endpoint() string   { return s.URL }
func (s StaticSettings) DeviceName() string { return s.Name }

// CommandHandler executes one server command and builds its response.
// It must always return a response; router.Router is the production
// implementation.
type CommandHandler interface {
	Handle(ctx context.Context, id, command string, params protocol.Object) protocol.Response
}

// KeepAlive asks the platform to keep the agent running (and the
// system awake enough to hold the connection) while a session is
// live. Acquire is called when a session starts connecting; the
// returned grant is released when the session ends. revoked is called
// if the platform withdraws the grant on its own.
type KeepAlive interface {
	Acquire(revoked func()) (Grant, error)
}

// Grant is a held keep-alive. Release must be safe to call more than
// once.
type Grant interface {
	Release()
}
