// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/protocol"
)

// Capabilities is the registry the router dispatches into. A nil
// field makes its commands answer UNAVAILABLE.
type Capabilities struct {
	Alarm     capability.Alarm
	Notifier  capability.Notifier
	Speaker   capability.Speaker
	Locator   capability.Locator
	Camera    capability.Camera
	SleepLock capability.SleepLock
	Status    capability.StatusReader
}

type handlerFunc func(ctx context.Context, params params) (*protocol.Value, error)

// Router maps command names to capabilities and turns every outcome
// into exactly one response envelope.
type Router struct {
	capabilities Capabilities
	logger       *slog.Logger
	table        map[string]handlerFunc
}

// New builds a router over capabilities.
func New(capabilities Capabilities, logger *slog.Logger) *Router {
	router := &Router{capabilities: capabilities, logger: logger}
	router.table = map[string]handlerFunc{
		"alarm.start":   router.alarmStart,
		"alarm.stop":    router.alarmStop,
		"notify.send":   router.notifySend,
		"tts.speak":     router.ttsSpeak,
		"location.get":  router.locationGet,
		"camera.snap":   router.cameraSnap,
		"sleep.start":   router.sleepStart,
		"sleep.stop":    router.sleepStop,
		"device.status": router.deviceStatus,
	}
	return router
}

// Commands returns the recognized command names, sorted.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.table))
	for name := range r.table {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Handle runs command and returns its response, echoing id. It never
// fails and never panics: capability errors become coded error
// responses, and a panicking capability becomes INTERNAL_ERROR.
func (r *Router) Handle(ctx context.Context, id, command string, arguments protocol.Object) (response protocol.Response) {
	handler, ok := r.table[command]
	if !ok {
		r.logger.Warn("unknown command", "id", id, "command", command)
		return protocol.Failure(id, string(capability.UnknownCommand), "Unknown command: "+command)
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("command handler panicked", "id", id, "command", command, "panic", recovered)
			response = protocol.Failure(id, string(capability.InternalError),
				fmt.Sprintf("internal error while handling %s", command))
		}
	}()

	data, err := handler(ctx, params{object: arguments, command: command})
	if err != nil {
		code, message := capability.CodeOf(err)
		r.logger.Warn("command failed", "id", id, "command", command, "code", code, "error", err)
		return protocol.Failure(id, string(code), message)
	}
	return protocol.OK(id, data)
}

func unavailable(command, name string) error {
	return capability.Errorf(capability.Unavailable, command, "%s is not available on this device", name)
}

func (r *Router) alarmStart(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.Alarm == nil {
		return nil, unavailable(p.command, "alarm")
	}
	sound, err := p.optionalString("sound", "default")
	if err != nil {
		return nil, err
	}
	message, err := p.optionalString("message", "")
	if err != nil {
		return nil, err
	}
	return nil, capability.Wrap(capability.AlarmError, p.command, r.capabilities.Alarm.Start(ctx, sound, message))
}

func (r *Router) alarmStop(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.Alarm == nil {
		return nil, unavailable(p.command, "alarm")
	}
	return nil, capability.Wrap(capability.AlarmError, p.command, r.capabilities.Alarm.Stop(ctx))
}

func (r *Router) notifySend(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.Notifier == nil {
		return nil, unavailable(p.command, "notifications")
	}
	title, err := p.optionalString("title", "")
	if err != nil {
		return nil, err
	}
	body, err := p.optionalString("body", "")
	if err != nil {
		return nil, err
	}
	priority, err := p.enum("priority", string(capability.PriorityNormal),
		string(capability.PriorityLow), string(capability.PriorityNormal), string(capability.PriorityCritical))
	if err != nil {
		return nil, err
	}
	err = r.capabilities.Notifier.Notify(ctx, title, body, capability.Priority(priority))
	return nil, capability.Wrap(capability.NotifyError, p.command, err)
}

func (r *Router) ttsSpeak(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.Speaker == nil {
		return nil, unavailable(p.command, "speech")
	}
	text, err := p.optionalString("text", "")
	if err != nil {
		return nil, err
	}
	voice, err := p.optionalString("voice", "")
	if err != nil {
		return nil, err
	}
	return nil, capability.Wrap(capability.SpeechError, p.command, r.capabilities.Speaker.Speak(ctx, text, voice))
}

func (r *Router) locationGet(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.Locator == nil {
		return nil, unavailable(p.command, "location")
	}
	accuracy, err := p.enum("accuracy", string(capability.AccuracyCoarse),
		string(capability.AccuracyCoarse), string(capability.AccuracyPrecise))
	if err != nil {
		return nil, err
	}
	location, err := r.capabilities.Locator.Locate(ctx, capability.Accuracy(accuracy))
	if err != nil {
		return nil, capability.Wrap(capability.LocationError, p.command, err)
	}
	value := location.Value()
	return &value, nil
}

func (r *Router) cameraSnap(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.Camera == nil {
		return nil, unavailable(p.command, "camera")
	}
	facing, err := p.enum("facing", string(capability.FacingBack),
		string(capability.FacingFront), string(capability.FacingBack))
	if err != nil {
		return nil, err
	}
	photo, err := r.capabilities.Camera.Snap(ctx, capability.Facing(facing))
	if err != nil {
		return nil, capability.Wrap(capability.CameraError, p.command, err)
	}
	value := photo.Value()
	return &value, nil
}

func (r *Router) sleepStart(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.SleepLock == nil {
		return nil, unavailable(p.command, "sleep lock")
	}
	return nil, capability.Wrap(capability.SleepError, p.command, r.capabilities.SleepLock.Start(ctx))
}

func (r *Router) sleepStop(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.SleepLock == nil {
		return nil, unavailable(p.command, "sleep lock")
	}
	return nil, capability.Wrap(capability.SleepError, p.command, r.capabilities.SleepLock.Stop(ctx))
}

func (r *Router) deviceStatus(ctx context.Context, p params) (*protocol.Value, error) {
	if r.capabilities.Status == nil {
		return nil, unavailable(p.command, "device status")
	}
	status, err := r.capabilities.Status.Status(ctx)
	if err != nil {
		return nil, capability.Wrap(capability.StatusError, p.command, err)
	}
	value := status.Value()
	return &value, nil
}
