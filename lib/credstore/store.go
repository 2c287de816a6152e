// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"sync"

	"github.com/google/uuid"
)

// Store is the key/value contract the connection manager consumes.
type Store interface {
	// DeviceID returns the install's identity, creating it on first
	// call.
	DeviceID() (string, error)

	// Token returns the token stored for endpoint.
	Token(endpoint string) (token string, ok bool, err error)

	// SaveToken stores token for endpoint, replacing any previous one.
	SaveToken(endpoint, token string) error

	// DeleteToken removes endpoint's token. Deleting a missing token
	// is not an error.
	DeleteToken(endpoint string) error

	// MigrateLegacy moves a pre-scoping token under endpoint. It runs
	// its body at most once per store and reports whether a token
	// moved.
	MigrateLegacy(endpoint string) (bool, error)
}

// schemaScoped is the document version in which tokens are keyed by
// endpoint. Documents below it may carry LegacyToken.
const schemaScoped = 2

// document is the persisted shape shared by File and Memory.
type document struct {
	Version     int               `cbor:"version"`
	DeviceID    string            `cbor:"device_id,omitempty"`
	Tokens      map[string]string `cbor:"tokens,omitempty"`
	LegacyToken string            `cbor:"legacy_token,omitempty"`
}

func (d *document) ensureDeviceID() bool {
	if d.DeviceID != "" {
		return false
	}
	d.DeviceID = uuid.NewString()
	return true
}

// migrate applies the one-time legacy move to d and reports whether d
// changed and whether a token moved.
func (d *document) migrate(endpoint string) (changed, moved bool) {
	if d.Version >= schemaScoped {
		return false, false
	}
	if d.LegacyToken != "" {
		if _, exists := d.Tokens[endpoint]; !exists && endpoint != "" {
			if d.Tokens == nil {
				d.Tokens = make(map[string]string)
			}
			d.Tokens[endpoint] = d.LegacyToken
			moved = true
		}
		d.LegacyToken = ""
	}
	d.Version = schemaScoped
	return true, moved
}

// Memory is a Store that lives only as long as the process.
type Memory struct {
	mutex sync.Mutex
	doc   document
}

// NewMemory returns an empty, already-migrated store.
func NewMemory() *Memory {
	return &Memory{doc: document{Version: schemaScoped}}
}

// NewMemoryWithIdentity returns an empty store whose device identity
// is already deviceID.
func NewMemoryWithIdentity(deviceID string) *Memory {
	return &Memory{doc: document{Version: schemaScoped, DeviceID: deviceID}}
}

// NewMemoryWithLegacy returns a store in the pre-scoping layout,
// holding deviceID and a single unscoped token.
func NewMemoryWithLegacy(deviceID, token string) *Memory {
	return &Memory{doc: document{Version: 1, DeviceID: deviceID, LegacyToken: token}}
}

func (m *Memory) DeviceID() (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.doc.ensureDeviceID()
	return m.doc.DeviceID, nil
}

func (m *Memory) Token(endpoint string) (string, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	token, ok := m.doc.Tokens[endpoint]
	return token, ok, nil
}

func (m *Memory) SaveToken(endpoint, token string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.doc.Tokens == nil {
		m.doc.Tokens = make(map[string]string)
	}
	m.doc.Tokens[endpoint] = token
	return nil
}

func (m *Memory) DeleteToken(endpoint string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.doc.Tokens, endpoint)
	return nil
}

func (m *Memory) MigrateLegacy(endpoint string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, moved := m.doc.migrate(endpoint)
	return moved, nil
}
