// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package camera captures still photos on request, gated on local
// approval.
//
// A camera.snap command does not capture immediately. Snap checks that
// the device node is accessible, posts a notification, and parks the
// request until the person holding the device answers with
// "omcli-device camera approve" or "camera decline" (or the approval
// window closes). Only an approved request runs the capture command.
// At most one request is pending at a time, and each request is
// resolved exactly once.
package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/clock"
)

// DefaultApprovalTimeout is how long a request waits for an answer.
const DefaultApprovalTimeout = 2 * time.Minute

// ErrNoPendingCapture is returned by Approve and Decline when nothing
// is waiting for an answer.
var ErrNoPendingCapture = errors.New("no photo request is awaiting approval")

// Runner runs a capture command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Config configures a Camera.
type Config struct {
	// Devices maps each facing to a video device node. A facing with
	// no entry is unavailable.
	Devices map[capability.Facing]string

	// Command captures one JPEG to standard output. "{device}" in any
	// argument is replaced by the device node.
	Command []string

	// ApprovalTimeout bounds the wait for approve or decline. Zero
	// means DefaultApprovalTimeout.
	ApprovalTimeout time.Duration

	Clock clock.Clock

	// Notifier, if set, tells the user a photo was requested.
	Notifier capability.Notifier

	Logger *slog.Logger

	// Run and Access default to os/exec and access(2); tests replace
	// them.
	Run    Runner
	Access func(path string) error
}

// Camera implements [capability.Camera].
type Camera struct {
	config Config

	mutex   sync.Mutex
	pending *request
}

// request is one parked Snap.
type request struct {
	facing   capability.Facing
	decision chan bool
	once     sync.Once
}

// resolve delivers the answer. Only the first call has any effect.
func (r *request) resolve(approved bool) bool {
	delivered := false
	r.once.Do(func() {
		r.decision <- approved
		delivered = true
	})
	return delivered
}

// New returns a Camera.
func New(config Config) *Camera {
	if config.ApprovalTimeout <= 0 {
		config.ApprovalTimeout = DefaultApprovalTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Run == nil {
		config.Run = runCommand
	}
	if config.Access == nil {
		config.Access = func(path string) error {
			return unix.Access(path, unix.R_OK|unix.W_OK)
		}
	}
	return &Camera{config: config}
}

// Snap waits for approval and then captures one photo.
func (c *Camera) Snap(ctx context.Context, facing capability.Facing) (capability.Photo, error) {
	device, err := c.checkDevice(facing)
	if err != nil {
		return capability.Photo{}, err
	}

	pending := &request{facing: facing, decision: make(chan bool, 1)}
	c.mutex.Lock()
	if c.pending != nil {
		c.mutex.Unlock()
		return capability.Photo{}, capability.Errorf(capability.CameraError, "camera.snap",
			"Another photo request is awaiting approval")
	}
	c.pending = pending
	c.mutex.Unlock()
	defer func() {
		c.mutex.Lock()
		if c.pending == pending {
			c.pending = nil
		}
		c.mutex.Unlock()
	}()

	c.config.Logger.Info("photo requested, awaiting approval", "facing", facing)
	if c.config.Notifier != nil {
		body := fmt.Sprintf("The server requested a %s camera photo. Run \"omcli-device camera approve\" to allow it.", facing)
		if err := c.config.Notifier.Notify(ctx, "Photo requested", body, capability.PriorityCritical); err != nil {
			c.config.Logger.Warn("photo request notification failed", "error", err)
		}
	}

	select {
	case approved := <-pending.decision:
		if !approved {
			return capability.Photo{}, capability.Errorf(capability.UserDeclined, "camera.snap", "Photo declined by user")
		}
	case <-c.config.Clock.After(c.config.ApprovalTimeout):
		pending.resolve(false)
		return capability.Photo{}, capability.Errorf(capability.UserDeclined, "camera.snap",
			"Photo request was not approved within %s", c.config.ApprovalTimeout)
	case <-ctx.Done():
		pending.resolve(false)
		return capability.Photo{}, capability.Wrap(capability.CameraError, "camera.snap", ctx.Err())
	}

	return c.capture(ctx, device)
}

// Approve lets the pending request capture.
func (c *Camera) Approve() error { return c.answer(true) }

// Decline refuses the pending request.
func (c *Camera) Decline() error { return c.answer(false) }

func (c *Camera) answer(approved bool) error {
	c.mutex.Lock()
	pending := c.pending
	c.mutex.Unlock()
	if pending == nil || !pending.resolve(approved) {
		return ErrNoPendingCapture
	}
	return nil
}

// Pending reports the facing of the request awaiting approval.
func (c *Camera) Pending() (capability.Facing, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.pending == nil {
		return "", false
	}
	return c.pending.facing, true
}

// Probe checks the back camera, falling back to the front one. It
// captures nothing.
func (c *Camera) Probe() error {
	_, err := c.checkDevice(capability.FacingBack)
	if err != nil {
		_, err = c.checkDevice(capability.FacingFront)
	}
	return err
}

func (c *Camera) checkDevice(facing capability.Facing) (string, error) {
	device := c.config.Devices[facing]
	if device == "" {
		return "", capability.Errorf(capability.CameraError, "camera.snap", "Camera device unavailable")
	}
	err := c.config.Access(device)
	switch {
	case err == nil:
		return device, nil
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return "", capability.Errorf(capability.PermissionDenied, "camera.snap", "Camera access not authorized")
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV):
		return "", capability.Errorf(capability.CameraError, "camera.snap", "Camera device unavailable")
	}
	return "", capability.Wrap(capability.CameraError, "camera.snap", fmt.Errorf("checking %s: %w", device, err))
}

func (c *Camera) capture(ctx context.Context, device string) (capability.Photo, error) {
	if len(c.config.Command) == 0 {
		return capability.Photo{}, capability.Errorf(capability.CameraError, "camera.snap", "No capture command configured")
	}
	arguments := make([]string, len(c.config.Command))
	for i, argument := range c.config.Command {
		arguments[i] = strings.ReplaceAll(argument, "{device}", device)
	}

	image, err := c.config.Run(ctx, arguments[0], arguments[1:]...)
	if err != nil {
		c.config.Logger.Error("photo capture failed", "device", device, "error", err)
		return capability.Photo{}, &capability.Error{
			Code: capability.CameraError, Op: "camera.snap", Message: "Failed to capture photo", Err: err,
		}
	}
	if len(image) == 0 {
		return capability.Photo{}, capability.Errorf(capability.CameraError, "camera.snap", "Failed to capture photo")
	}
	return capability.Photo{Base64: base64.StdEncoding.EncodeToString(image), Format: "jpeg"}, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	output, err := command.Output()
	if err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, detail)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}
