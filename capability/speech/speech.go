// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package speech speaks text through an external synthesizer
// (espeak-ng by default).
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/omcli/omcli-device/capability"
)

// Speaker implements [capability.Speaker] by running Command once per
// utterance and waiting for it to exit.
type Speaker struct {
	// Command is the synthesizer binary, looked up in PATH.
	Command string

	// DefaultVoice is passed with -v when a request names no voice.
	DefaultVoice string
}

// Speak blocks until the synthesizer has finished speaking. Canceling
// ctx kills the synthesizer.
func (s *Speaker) Speak(ctx context.Context, text, voice string) error {
	if voice == "" {
		voice = s.DefaultVoice
	}

	command := exec.CommandContext(ctx, s.Command, s.arguments(text, voice)...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return capability.Errorf(capability.SpeechError, "tts.speak", "Speech synthesizer %q is not installed", s.Command)
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		return capability.Wrap(capability.SpeechError, "tts.speak", err)
	}
	return nil
}

// arguments builds the synthesizer command line. The text follows
// "--" so text beginning with a dash is not taken for an option.
func (s *Speaker) arguments(text, voice string) []string {
	var arguments []string
	if voice != "" {
		arguments = append(arguments, "-v", voice)
	}
	return append(arguments, "--", text)
}

// Probe reports whether the synthesizer binary is installed.
func (s *Speaker) Probe() error {
	if _, err := exec.LookPath(s.Command); err != nil {
		return capability.Wrap(capability.SpeechError, "tts.probe", err)
	}
	return nil
}
