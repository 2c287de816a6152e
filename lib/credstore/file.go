// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/omcli/omcli-device/lib/atomicfile"
	"github.com/omcli/omcli-device/lib/codec"
	"github.com/omcli/omcli-device/lib/sealed"
	"github.com/omcli/omcli-device/lib/secret"
)

const (
	// DocumentName is the sealed credential document inside the state
	// directory.
	DocumentName = "credentials.age"

	// IdentityName is the age private key file inside the state
	// directory.
	IdentityName = "identity.age-key"
)

// File is a Store backed by an age-encrypted CBOR document. Every
// mutation rewrites the document atomically.
type File struct {
	mutex        sync.Mutex
	path         string
	privateKey   *secret.Buffer
	recipientKey string
	doc          document
}

// OpenFile opens (or initializes) the store in stateDirectory. The
// directory is created with mode 0700 if missing. Close releases the
// identity.
func OpenFile(stateDirectory string) (*File, error) {
	if err := os.MkdirAll(stateDirectory, 0700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	privateKey, err := loadOrCreateIdentity(filepath.Join(stateDirectory, IdentityName))
	if err != nil {
		return nil, err
	}
	recipientKey, err := sealed.PublicKeyOf(privateKey)
	if err != nil {
		privateKey.Close()
		return nil, err
	}

	store := &File{
		path:         filepath.Join(stateDirectory, DocumentName),
		privateKey:   privateKey,
		recipientKey: recipientKey,
		doc:          document{Version: schemaScoped},
	}
	if err := store.load(); err != nil {
		privateKey.Close()
		return nil, err
	}
	return store, nil
}

// ImportLegacy seeds a store that has no document yet with a
// pre-scoping token, as an upgrade from the single-slot layout would
// leave it. It fails if a document already exists.
func ImportLegacy(stateDirectory, deviceID, token string) error {
	store, err := OpenFile(stateDirectory)
	if err != nil {
		return err
	}
	defer store.Close()

	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, err := os.Stat(store.path); err == nil {
		return fmt.Errorf("credential document %s already exists", store.path)
	}
	store.doc = document{Version: 1, DeviceID: deviceID, LegacyToken: token}
	return store.saveLocked()
}

func loadOrCreateIdentity(path string) (*secret.Buffer, error) {
	privateKey, err := secret.ReadFile(path)
	if err == nil {
		return privateKey, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading identity: %w", err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	key := keypair.PrivateKey.Bytes()
	line := make([]byte, len(key)+1)
	copy(line, key)
	line[len(key)] = '\n'
	err = atomicfile.Write(path, line, 0600)
	secret.Zero(line)
	if err != nil {
		keypair.Close()
		return nil, fmt.Errorf("writing identity: %w", err)
	}
	return keypair.PrivateKey, nil
}

func (f *File) load() error {
	ciphertext, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading credential document: %w", err)
	}

	plaintext, err := sealed.Open(ciphertext, f.privateKey)
	if err != nil {
		return fmt.Errorf("opening credential document: %w", err)
	}
	defer plaintext.Close()

	var doc document
	if err := codec.Unmarshal(plaintext.Bytes(), &doc); err != nil {
		return fmt.Errorf("decoding credential document: %w", err)
	}
	f.doc = doc
	return nil
}

func (f *File) saveLocked() error {
	plaintext, err := codec.Marshal(f.doc)
	if err != nil {
		return fmt.Errorf("encoding credential document: %w", err)
	}
	ciphertext, err := sealed.Seal(plaintext, f.recipientKey)
	secret.Zero(plaintext)
	if err != nil {
		return fmt.Errorf("sealing credential document: %w", err)
	}
	return atomicfile.Write(f.path, ciphertext, 0600)
}

// Close releases the identity held in locked memory.
func (f *File) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.privateKey.Close()
}

func (f *File) DeviceID() (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if !f.doc.ensureDeviceID() {
		return f.doc.DeviceID, nil
	}
	// An identity is only handed out once it is on disk; a failed save
	// leaves none, so the next call generates and saves again.
	if err := f.saveLocked(); err != nil {
		f.doc.DeviceID = ""
		return "", fmt.Errorf("persisting device identity: %w", err)
	}
	return f.doc.DeviceID, nil
}

func (f *File) Token(endpoint string) (string, bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	token, ok := f.doc.Tokens[endpoint]
	return token, ok, nil
}

func (f *File) SaveToken(endpoint, token string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.doc.Tokens == nil {
		f.doc.Tokens = make(map[string]string)
	}
	previous, existed := f.doc.Tokens[endpoint]
	f.doc.Tokens[endpoint] = token
	if err := f.saveLocked(); err != nil {
		if existed {
			f.doc.Tokens[endpoint] = previous
		} else {
			delete(f.doc.Tokens, endpoint)
		}
		return err
	}
	return nil
}

func (f *File) DeleteToken(endpoint string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	previous, ok := f.doc.Tokens[endpoint]
	if !ok {
		return nil
	}
	delete(f.doc.Tokens, endpoint)
	if err := f.saveLocked(); err != nil {
		f.doc.Tokens[endpoint] = previous
		return err
	}
	return nil
}

func (f *File) MigrateLegacy(endpoint string) (bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	changed, moved := f.doc.migrate(endpoint)
	if !changed {
		return false, nil
	}
	if err := f.saveLocked(); err != nil {
		return false, fmt.Errorf("persisting credential migration: %w", err)
	}
	return moved, nil
}
