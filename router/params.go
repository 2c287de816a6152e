// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"slices"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/protocol"
)

// params reads typed arguments out of a command's params object.
// Missing and null keys take the caller's default; a key of the wrong
// kind is INVALID_PARAMS.
type params struct {
	object  protocol.Object
	command string
}

func (p params) optionalString(key, fallback string) (string, error) {
	value, ok := p.object[key]
	if !ok || value.IsNull() {
		return fallback, nil
	}
	text, ok := value.AsString()
	if !ok {
		return "", capability.Errorf(capability.InvalidParams, p.command,
			"%s must be a string, got %v", key, value.Kind())
	}
	return text, nil
}

func (p params) enum(key, fallback string, allowed ...string) (string, error) {
	text, err := p.optionalString(key, fallback)
	if err != nil {
		return "", err
	}
	if !slices.Contains(allowed, text) {
		return "", capability.Errorf(capability.InvalidParams, p.command,
			"%s must be one of %v, got %q", key, allowed, text)
	}
	return text, nil
}
