// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EncodeOutbound renders a device envelope as a JSON text frame.
func EncodeOutbound(envelope Outbound) ([]byte, error) {
	return encode(envelope)
}

// EncodeInbound renders a server envelope. The device never sends
// these; test servers and tooling do.
func EncodeInbound(envelope Inbound) ([]byte, error) {
	if command, ok := envelope.(Command); ok && command.Params == nil {
		command.Params = Object{}
		envelope = command
	}
	return encode(envelope)
}

func encode(envelope Envelope) ([]byte, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", envelope.Type(), err)
	}

	// Every envelope marshals to a JSON object. The discriminator is
	// written first, then the object's members.
	data := make([]byte, 0, len(body)+len(envelope.Type())+12)
	data = append(data, `{"type":`...)
	data = strconv.AppendQuote(data, envelope.Type())
	if len(body) > 2 {
		data = append(data, ',')
	}
	return append(data, body[1:]...), nil
}

// DecodeInbound parses a frame from the server.
func DecodeInbound(data []byte) (Inbound, error) {
	frame, err := readFrame(data)
	if err != nil {
		return nil, err
	}

	switch frame.kind {
	case TypePairingCode:
		code, err := frame.requiredString("code")
		return PairingCode{Code: code}, err
	case TypeAuthResult:
		success, err := frame.requiredBool("success")
		if err != nil {
			return nil, err
		}
		result := AuthResult{Success: success}
		if result.Token, err = frame.optionalString("token"); err != nil {
			return nil, err
		}
		if result.Error, err = frame.optionalString("error"); err != nil {
			return nil, err
		}
		return result, nil
	case TypeAuthRequired:
		return AuthRequired{}, nil
	case TypeCommand:
		command := Command{Params: Object{}}
		if command.ID, err = frame.requiredString("id"); err != nil {
			return nil, err
		}
		if command.Command, err = frame.requiredString("command"); err != nil {
			return nil, err
		}
		params, err := frame.optionalValue("params")
		if err != nil {
			return nil, err
		}
		if params != nil && !params.IsNull() {
			object, ok := params.AsObject()
			if !ok {
				return nil, frame.malformed("params is %v, not an object", params.Kind())
			}
			command.Params = object
		}
		return command, nil
	}
	return nil, &ProtocolError{Type: frame.kind, Err: ErrUnknownType}
}

// DecodeOutbound parses a frame sent by a device.
func DecodeOutbound(data []byte) (Outbound, error) {
	frame, err := readFrame(data)
	if err != nil {
		return nil, err
	}

	switch frame.kind {
	case TypeHello:
		var hello Hello
		if hello.DeviceID, err = frame.requiredString("device_id"); err != nil {
			return nil, err
		}
		hello.Name, err = frame.requiredString("name")
		return hello, err
	case TypeAuth:
		var auth Auth
		if auth.DeviceID, err = frame.requiredString("device_id"); err != nil {
			return nil, err
		}
		auth.Token, err = frame.requiredString("token")
		return auth, err
	case TypeResponse:
		var response Response
		if response.ID, err = frame.requiredString("id"); err != nil {
			return nil, err
		}
		status, err := frame.requiredString("status")
		if err != nil {
			return nil, err
		}
		response.Status = Status(status)
		if response.Status != StatusOK && response.Status != StatusError {
			return nil, frame.malformed("status %q", status)
		}
		if response.Data, err = frame.optionalValue("data"); err != nil {
			return nil, err
		}
		if raw, ok := frame.fields["error"]; ok && string(raw) != "null" {
			var body ErrorBody
			if err := json.Unmarshal(raw, &body); err != nil {
				return nil, frame.malformed("error: %v", err)
			}
			response.Error = &body
		}
		return response, nil
	case TypeEvent:
		var event Event
		if event.Event, err = frame.requiredString("event"); err != nil {
			return nil, err
		}
		event.Data, err = frame.optionalValue("data")
		return event, err
	case TypePushToken:
		token, err := frame.requiredString("token")
		return PushToken{Token: token}, err
	case TypeVoIPToken:
		token, err := frame.requiredString("token")
		return VoIPToken{Token: token}, err
	}
	return nil, &ProtocolError{Type: frame.kind, Err: ErrUnknownType}
}

// frame is a decoded JSON object with its discriminator split out.
type frame struct {
	kind   string
	fields map[string]json.RawMessage
}

func readFrame(data []byte) (*frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("frame is null")
		}
		return nil, &ProtocolError{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	raw, ok := fields["type"]
	if !ok {
		return nil, &ProtocolError{Err: ErrMissingType}
	}
	var kind string
	if err := json.Unmarshal(raw, &kind); err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("%w: type is not a string", ErrMalformed)}
	}
	return &frame{kind: kind, fields: fields}, nil
}

func (f *frame) malformed(format string, args ...any) error {
	return &ProtocolError{Type: f.kind, Err: fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))}
}

func (f *frame) requiredString(key string) (string, error) {
	raw, ok := f.fields[key]
	if !ok {
		return "", f.malformed("missing %s", key)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil || string(raw) == "null" {
		return "", f.malformed("%s is not a string", key)
	}
	return value, nil
}

func (f *frame) requiredBool(key string) (bool, error) {
	raw, ok := f.fields[key]
	if !ok {
		return false, f.malformed("missing %s", key)
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil || string(raw) == "null" {
		return false, f.malformed("%s is not a boolean", key)
	}
	return value, nil
}

// optionalString treats an absent or null field as absent.
func (f *frame) optionalString(key string) (*string, error) {
	raw, ok := f.fields[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, f.malformed("%s is not a string", key)
	}
	return &value, nil
}

// optionalValue returns nil only when the key is absent. A literal
// null decodes to Null().
func (f *frame) optionalValue(key string) (*Value, error) {
	raw, ok := f.fields[key]
	if !ok {
		return nil, nil
	}
	value, err := ParseValue(raw)
	if err != nil {
		return nil, f.malformed("%s: %v", key, err)
	}
	return &value, nil
}
