// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"errors"
	"fmt"
)

// Code is a stable error code carried in response envelopes.
type Code string

const (
	PermissionDenied Code = "PERMISSION_DENIED"
	UserDeclined     Code = "USER_DECLINED"
	InvalidParams    Code = "INVALID_PARAMS"
	Unavailable      Code = "UNAVAILABLE"
	UnknownCommand   Code = "UNKNOWN_COMMAND"
	InternalError    Code = "INTERNAL_ERROR"

	AlarmError    Code = "ALARM_ERROR"
	NotifyError   Code = "NOTIFY_ERROR"
	SpeechError   Code = "TTS_ERROR"
	LocationError Code = "LOCATION_ERROR"
	CameraError   Code = "CAMERA_ERROR"
	SleepError    Code = "SLEEP_ERROR"
	StatusError   Code = "STATUS_ERROR"
)

// Error is a classified capability failure.
type Error struct {
	Code Code
	// Op names the failing operation, e.g. "camera.snap".
	Op string
	// Message is the human-readable text sent to the server. When
	// empty, Err's text is used.
	Message string
	Err     error
}

func (e *Error) Error() string {
	message := e.message()
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, message)
	}
	return message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) message() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Code)
}

// Errorf returns an *Error with a formatted message.
func Errorf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. A nil err yields nil. An err that is
// already an *Error keeps its own code.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the code and response message for err. Errors that
// are not classified map to INTERNAL_ERROR.
func CodeOf(err error) (Code, string) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Code, classified.message()
	}
	return InternalError, err.Error()
}
