// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package alarm plays the looping alarm tone.
//
// The tone is synthesized (see [WAV]) into a temporary file and played
// repeatedly through an external player until the alarm is stopped or
// dismissed. The sound name only selects the volume: "loud" and "hell"
// play at full scale, anything else at 70%. "hell" also re-posts the
// critical notification on every loop.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/lib/clock"
)

// ErrNotRinging is returned by Dismiss when no alarm is active.
var ErrNotRinging = errors.New("no alarm is ringing")

// retryDelay separates player restarts after a failed play.
const retryDelay = time.Second

// Player plays one file to completion or until ctx is canceled.
type Player func(ctx context.Context, name string, args ...string) error

// Config configures an Alarm.
type Config struct {
	// Player is the audio player binary; PlayerArgs precede the file.
	Player     string
	PlayerArgs []string

	// Notifier, if set, receives the critical "Alarm" notification.
	Notifier capability.Notifier

	Clock  clock.Clock
	Logger *slog.Logger

	// TempDir holds the rendered tone. Empty means os.TempDir().
	TempDir string

	// Play and LookPath default to os/exec; tests replace them.
	Play     Player
	LookPath func(file string) (string, error)
}

// Alarm implements [capability.Alarm].
type Alarm struct {
	config Config

	// lifecycle serializes Start, Stop and Dismiss.
	lifecycle sync.Mutex

	mutex   sync.Mutex
	active  bool
	sound   string
	message string
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns an idle Alarm.
func New(config Config) *Alarm {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Play == nil {
		config.Play = func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		}
	}
	if config.LookPath == nil {
		config.LookPath = exec.LookPath
	}
	return &Alarm{config: config}
}

// Volume returns the playback scale for a sound name.
func Volume(sound string) float64 {
	switch sound {
	case "loud", "hell":
		return 1.0
	}
	return 0.7
}

// Start begins playback, replacing an alarm that is already ringing.
func (a *Alarm) Start(ctx context.Context, sound, message string) error {
	if _, err := a.config.LookPath(a.config.Player); err != nil {
		return capability.Errorf(capability.AlarmError, "alarm.start", "Audio player %q is not installed", a.config.Player)
	}
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.halt()

	tone, err := os.CreateTemp(a.config.TempDir, "omcli-alarm-*.wav")
	if err != nil {
		return capability.Wrap(capability.AlarmError, "alarm.start", fmt.Errorf("creating tone file: %w", err))
	}
	if _, err := tone.Write(WAV(Volume(sound))); err != nil {
		tone.Close()
		os.Remove(tone.Name())
		return capability.Wrap(capability.AlarmError, "alarm.start", fmt.Errorf("writing tone file: %w", err))
	}
	if err := tone.Close(); err != nil {
		os.Remove(tone.Name())
		return capability.Wrap(capability.AlarmError, "alarm.start", err)
	}

	loopContext, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.mutex.Lock()
	a.active, a.sound, a.message = true, sound, message
	a.cancel, a.done = cancel, done
	a.mutex.Unlock()

	a.config.Logger.Info("alarm started", "sound", sound)
	a.notify(ctx, message)
	go a.loop(loopContext, done, tone.Name(), sound, message)
	return nil
}

// Stop silences the alarm. Stopping an idle alarm is not an error.
func (a *Alarm) Stop(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.halt() {
		a.config.Logger.Info("alarm stopped")
	}
	return nil
}

// Dismiss stops a ringing alarm on the device's side and returns the
// dismissal time, which the agent reports to the server.
func (a *Alarm) Dismiss() (time.Time, error) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if !a.halt() {
		return time.Time{}, ErrNotRinging
	}
	a.config.Logger.Info("alarm dismissed")
	return a.config.Clock.Now(), nil
}

// Active reports whether the alarm is ringing.
func (a *Alarm) Active() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.active
}

// Message returns the message of the ringing alarm, if any.
func (a *Alarm) Message() string {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.message
}

// halt stops the playback loop and waits for it to exit. It reports
// whether an alarm was ringing.
func (a *Alarm) halt() bool {
	a.mutex.Lock()
	if !a.active {
		a.mutex.Unlock()
		return false
	}
	cancel, done := a.cancel, a.done
	a.active, a.sound, a.message = false, "", ""
	a.cancel, a.done = nil, nil
	a.mutex.Unlock()

	cancel()
	<-done
	return true
}

func (a *Alarm) loop(ctx context.Context, done chan struct{}, tone, sound, message string) {
	defer close(done)
	defer os.Remove(tone)

	arguments := append(append([]string(nil), a.config.PlayerArgs...), tone)
	for first := true; ; first = false {
		if sound == "hell" && !first {
			a.notify(ctx, message)
		}
		err := a.config.Play(ctx, a.config.Player, arguments...)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			continue
		}
		a.config.Logger.Error("alarm playback failed", "player", a.config.Player, "error", err)
		select {
		case <-a.config.Clock.After(retryDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (a *Alarm) notify(ctx context.Context, message string) {
	if a.config.Notifier == nil {
		return
	}
	body := message
	if body == "" {
		body = "Alarm is ringing"
	}
	if err := a.config.Notifier.Notify(ctx, "Alarm", body, capability.PriorityCritical); err != nil {
		a.config.Logger.Warn("alarm notification failed", "error", err)
	}
}
