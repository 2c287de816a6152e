// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

// Envelope type discriminators.
const (
	TypeHello        = "hello"
	TypeAuth         = "auth"
	TypeResponse     = "response"
	TypeEvent        = "event"
	TypePushToken    = "push_token"
	TypeVoIPToken    = "voip_token"
	TypePairingCode  = "pairing_code"
	TypeAuthResult   = "auth_result"
	TypeCommand      = "command"
	TypeAuthRequired = "auth_required"
)

// Envelope is one complete protocol message.
type Envelope interface {
	// Type returns the wire discriminator.
	Type() string
}

// Outbound is an envelope the device sends. The set is closed.
type Outbound interface {
	Envelope
	outbound()
}

// Inbound is an envelope the server sends. The set is closed.
type Inbound interface {
	Envelope
	inbound()
}

// Hello opens every session.
type Hello struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

// Auth presents a stored token.
type Auth struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// Status is the outcome field of a Response.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ErrorBody describes a failed command.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response answers exactly one Command, carrying its ID.
type Response struct {
	ID     string     `json:"id"`
	Status Status     `json:"status"`
	Data   *Value     `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// OK builds a successful response. data may be nil.
func OK(id string, data *Value) Response {
	return Response{ID: id, Status: StatusOK, Data: data}
}

// Failure builds an error response.
func Failure(id, code, message string) Response {
	return Response{ID: id, Status: StatusError, Error: &ErrorBody{Code: code, Message: message}}
}

// Event is an unsolicited device notification, such as a locally
// dismissed alarm.
type Event struct {
	Event string `json:"event"`
	Data  *Value `json:"data,omitempty"`
}

// PushToken registers the device's push notification token.
type PushToken struct {
	Token string `json:"token"`
}

// VoIPToken registers the device's VoIP wake token.
type VoIPToken struct {
	Token string `json:"token"`
}

// PairingCode carries a code the operator enters on a companion client
// to bind this device.
type PairingCode struct {
	Code string `json:"code"`
}

// AuthResult answers Auth, or completes pairing.
type AuthResult struct {
	Success bool    `json:"success"`
	Token   *string `json:"token,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// AuthRequired asks the device to authenticate.
type AuthRequired struct{}

// Command asks the device to run a capability.
type Command struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Params  Object `json:"params"`
}

func (Hello) Type() string        { return TypeHello }
func (Auth) Type() string         { return TypeAuth }
func (Response) Type() string     { return TypeResponse }
func (Event) Type() string        { return TypeEvent }
func (PushToken) Type() string    { return TypePushToken }
func (VoIPToken) Type() string    { return TypeVoIPToken }
func (PairingCode) Type() string  { return TypePairingCode }
func (AuthResult) Type() string   { return TypeAuthResult }
func (AuthRequired) Type() string { return TypeAuthRequired }
func (Command) Type() string      { return TypeCommand }

func (Hello) outbound()     {}
func (Auth) outbound()      {}
func (Response) outbound()  {}
func (Event) outbound()     {}
func (PushToken) outbound() {}
func (VoIPToken) outbound() {}

func (PairingCode) inbound()  {}
func (AuthResult) inbound()   {}
func (AuthRequired) inbound() {}
func (Command) inbound()      {}
