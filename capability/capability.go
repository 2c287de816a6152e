// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"time"

	"github.com/omcli/omcli-device/protocol"
)

// Alarm plays a looping alarm sound until stopped.
type Alarm interface {
	// Start begins (or restarts) the alarm and returns once playback
	// is under way. message, if non-empty, is shown alongside.
	Start(ctx context.Context, sound, message string) error
	Stop(ctx context.Context) error
}

// Priority is a notification urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// Notifier posts a user-visible notification.
type Notifier interface {
	Notify(ctx context.Context, title, body string, priority Priority) error
}

// Speaker speaks text aloud and returns when speech has finished.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) error
}

// Accuracy is a requested location precision.
type Accuracy string

const (
	AccuracyCoarse  Accuracy = "coarse"
	AccuracyPrecise Accuracy = "precise"
)

// Location is one position fix.
type Location struct {
	Latitude  float64
	Longitude float64
	// Accuracy is the horizontal radius in meters.
	Accuracy  float64
	Timestamp time.Time
}

// Value renders the fix for a response.
func (l Location) Value() protocol.Value {
	return protocol.Object{
		"lat":       protocol.Float(l.Latitude),
		"lon":       protocol.Float(l.Longitude),
		"accuracy":  protocol.Float(l.Accuracy),
		"timestamp": protocol.String(l.Timestamp.UTC().Format(time.RFC3339)),
	}.Value()
}

// Locator produces a position fix.
type Locator interface {
	Locate(ctx context.Context, accuracy Accuracy) (Location, error)
}

// Facing selects a camera.
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// Photo is a captured still image.
type Photo struct {
	// Base64 is the standard-encoding image data.
	Base64 string
	Format string
}

// Value renders the photo for a response.
func (p Photo) Value() protocol.Value {
	return protocol.Object{
		"base64": protocol.String(p.Base64),
		"format": protocol.String(p.Format),
	}.Value()
}

// Camera captures a photo, which may wait on local approval.
type Camera interface {
	Snap(ctx context.Context, facing Facing) (Photo, error)
}

// SleepLock keeps the device awake between Start and Stop.
type SleepLock interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DeviceStatus is a battery and ringer snapshot.
type DeviceStatus struct {
	// Battery is the charge percentage, 0-100.
	Battery    int
	Charging   bool
	SilentMode bool
}

// Value renders the status for a response.
func (s DeviceStatus) Value() protocol.Value {
	return protocol.Object{
		"battery":     protocol.Int(int64(s.Battery)),
		"charging":    protocol.Bool(s.Charging),
		"silent_mode": protocol.Bool(s.SilentMode),
	}.Value()
}

// StatusReader reports device status.
type StatusReader interface {
	Status(ctx context.Context) (DeviceStatus, error)
}
