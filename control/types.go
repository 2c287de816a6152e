// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"time"

	"github.com/omcli/omcli-device/lib/codec"
)

// Action names.
const (
	ActionStatus        = "status"
	ActionLog           = "log"
	ActionConnect       = "connect"
	ActionDisconnect    = "disconnect"
	ActionReconnect     = "reconnect"
	ActionUnpair        = "unpair"
	ActionCameraApprove = "camera.approve"
	ActionCameraDecline = "camera.decline"
	ActionCallAnswer    = "call.answer"
	ActionCallDecline   = "call.decline"
	ActionAlarmDismiss  = "alarm.dismiss"
	ActionEventEmit     = "event.emit"
	ActionPushToken     = "push.token"
	ActionVoIPToken     = "push.voip_token"
	ActionPushWake      = "push.wake"
)

// Response is the envelope of every reply on the socket.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// StatusReply answers the status action.
type StatusReply struct {
	State       string `cbor:"state"`
	Endpoint    string `cbor:"endpoint,omitempty"`
	PairingCode string `cbor:"pairing_code,omitempty"`
	Attempt     int    `cbor:"attempt,omitempty"`
	LastCommand string `cbor:"last_command,omitempty"`
	LastError   string `cbor:"last_error,omitempty"`

	CameraPending string `cbor:"camera_pending,omitempty"`
	CallPending   bool   `cbor:"call_pending,omitempty"`
	AlarmRinging  bool   `cbor:"alarm_ringing,omitempty"`
}

// LogEntry is one line of the connection log.
type LogEntry struct {
	Time    time.Time `cbor:"time"`
	Level   string    `cbor:"level"`
	Message string    `cbor:"message"`
}

// DismissReply answers alarm.dismiss.
type DismissReply struct {
	DismissedAt string `cbor:"dismissed_at"`
	// Reported is false when the agent was not paired and the
	// dismissal could not be sent to the server.
	Reported bool `cbor:"reported"`
}

// EventRequest carries event.emit's fields. Data is JSON text; empty
// means the event has no data.
type EventRequest struct {
	Event string `cbor:"event"`
	Data  string `cbor:"data,omitempty"`
}

// TokenRequest carries push.token and push.voip_token.
type TokenRequest struct {
	Token string `cbor:"token"`
}

// WakeRequest carries push.wake. Payload is the push payload as JSON
// text.
type WakeRequest struct {
	Payload string `cbor:"payload,omitempty"`
}
