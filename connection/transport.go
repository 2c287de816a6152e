// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package connection

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Conn is one established control-channel transport. *websocket.Conn
// satisfies it; tests substitute an in-memory pair.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, messageType websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens transports to the operator server.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebSocketDialer dials the operator server over websocket.
type WebSocketDialer struct {
	// Timeout bounds the opening handshake. Zero means no limit beyond
	// the caller's context.
	Timeout time.Duration

	// ReadLimit is the largest frame accepted from the server. Zero
	// keeps the library default of 32 KiB, which is too small for
	// most command payloads; callers normally set it from config.
	ReadLimit int64

	// UserAgent is sent on the opening handshake when non-empty.
	UserAgent string
}

// Dial performs the websocket handshake with endpoint. The returned
// connection outlives ctx; only the handshake is bound by it.
func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var options websocket.DialOptions
	if d.UserAgent != "" {
		options.HTTPHeader = http.Header{"User-Agent": []string{d.UserAgent}}
	}

	conn, _, err := websocket.Dial(ctx, endpoint, &options)
	if err != nil {
		return nil, fmt.Errorf("websocket handshake with %s: %w", endpoint, err)
	}
	if d.ReadLimit > 0 {
		conn.SetReadLimit(d.ReadLimit)
	}
	return conn, nil
}
