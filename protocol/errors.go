// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks a frame that is not a JSON object or has a
	// required field missing or of the wrong kind.
	ErrMalformed = errors.New("malformed frame")

	// ErrMissingType marks a frame with no type discriminator.
	ErrMissingType = errors.New("missing type")

	// ErrUnknownType marks a frame whose type is not in the set the
	// decoder was asked for.
	ErrUnknownType = errors.New("unknown type")
)

// ProtocolError is returned by every decode failure. The connection
// manager drops the frame and logs it; it never ends the session.
type ProtocolError struct {
	// Type is the frame's discriminator, if one could be read.
	Type string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: %v", e.Err)
	}
	return fmt.Sprintf("protocol: %q: %v", e.Type, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
