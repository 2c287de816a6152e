// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/omcli/omcli-device/lib/codec"
)

const (
	dialTimeout         = 5 * time.Second
	responseReadTimeout = 45 * time.Second
	maxResponseSize     = 1024 * 1024
)

// ActionError is returned by Call when the agent answers ok=false.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Client talks to a running agent. Each call is its own connection.
type Client struct {
	socketPath string
}

// NewClient returns a client for the socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends action with the given fields and decodes the reply's data
// into result when both are present. fields must not contain "action".
func (c *Client) Call(ctx context.Context, action string, fields map[string]any, result any) error {
	request := make(map[string]any, len(fields)+1)
	for key, value := range fields {
		request[key] = value
	}
	request["action"] = action

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &ActionError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding %q reply: %w", action, err)
		}
	}
	return nil
}

// Status fetches the agent's status.
func (c *Client) Status(ctx context.Context) (StatusReply, error) {
	var reply StatusReply
	err := c.Call(ctx, ActionStatus, nil, &reply)
	return reply, err
}

// Log fetches the connection log, newest first.
func (c *Client) Log(ctx context.Context) ([]LogEntry, error) {
	var entries []LogEntry
	err := c.Call(ctx, ActionLog, nil, &entries)
	return entries, err
}

// Dismiss dismisses the ringing alarm.
func (c *Client) Dismiss(ctx context.Context) (DismissReply, error) {
	var reply DismissReply
	err := c.Call(ctx, ActionAlarmDismiss, nil, &reply)
	return reply, err
}

// Emit sends a custom event. data is JSON text or empty.
func (c *Client) Emit(ctx context.Context, event, data string) error {
	return c.Call(ctx, ActionEventEmit, map[string]any{"event": event, "data": data}, nil)
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	if _, ok := ctx.Deadline(); !ok {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}
