// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package speech

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/omcli/omcli-device/capability"
)

func TestArguments(t *testing.T) {
	speaker := &Speaker{Command: "espeak-ng"}
	if got, want := speaker.arguments("hello", ""), []string{"--", "hello"}; !slices.Equal(got, want) {
		t.Errorf("arguments without voice = %q, want %q", got, want)
	}
	if got, want := speaker.arguments("-x", "en-us"), []string{"-v", "en-us", "--", "-x"}; !slices.Equal(got, want) {
		t.Errorf("arguments with voice = %q, want %q", got, want)
	}
}

func TestSpeakWaitsForSuccess(t *testing.T) {
	speaker := &Speaker{Command: "true"}
	if err := speaker.Speak(context.Background(), "hello", "en"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
}

func TestSpeakFailure(t *testing.T) {
	speaker := &Speaker{Command: "false"}
	err := speaker.Speak(context.Background(), "hello", "")
	if code, _ := capability.CodeOf(err); code != capability.SpeechError {
		t.Fatalf("code = %v (err %v), want TTS_ERROR", code, err)
	}
}

func TestSpeakMissingSynthesizer(t *testing.T) {
	speaker := &Speaker{Command: "omcli-no-such-synthesizer"}
	err := speaker.Speak(context.Background(), "hello", "")
	code, message := capability.CodeOf(err)
	if code != capability.SpeechError || !strings.Contains(message, "not installed") {
		t.Fatalf("CodeOf = %s, %q; want TTS_ERROR about a missing synthesizer", code, message)
	}
	if speaker.Probe() == nil {
		t.Error("Probe succeeded for a missing synthesizer")
	}
}
