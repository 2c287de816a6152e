// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func captureHelp(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buffer bytes.Buffer
	previous := Output
	Output = &buffer
	t.Cleanup(func() { Output = previous })
	return &buffer
}

func TestExecuteDispatchesNested(t *testing.T) {
	var called string
	var received []string
	root := &Command{
		Name: "omcli-device",
		Subcommands: []*Command{
			{Name: "status", Run: func([]string) error { called = "status"; return nil }},
			{
				Name: "camera",
				Subcommands: []*Command{
					{Name: "approve", Run: func(args []string) error {
						called, received = "camera approve", args
						return nil
					}},
				},
			},
		},
	}

	if err := root.Execute([]string{"camera", "approve", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "camera approve" {
		t.Errorf("dispatched to %q", called)
	}
	if len(received) != 1 || received[0] != "extra" {
		t.Errorf("args = %v, want [extra]", received)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var save bool
	var timeout string
	command := &Command{
		Name: "discover",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("discover", pflag.ContinueOnError)
			flagSet.BoolVar(&save, "save", false, "save the first server")
			flagSet.StringVar(&timeout, "timeout", "3s", "browse time")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}
	if err := command.Execute([]string{"--save", "--timeout=5s"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !save || timeout != "5s" {
		t.Errorf("save=%v timeout=%q", save, timeout)
	}
}

func TestUnknownCommandSuggests(t *testing.T) {
	captureHelp(t)
	root := &Command{
		Name: "omcli-device",
		Subcommands: []*Command{
			{Name: "reconnect", Run: func([]string) error { return nil }},
			{Name: "status", Run: func([]string) error { return nil }},
		},
	}
	err := root.Execute([]string{"reconect"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "reconnect"?`) {
		t.Fatalf("error = %v", err)
	}

	err = root.Execute([]string{"xyzzyplugh"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Fatalf("error = %v, want no suggestion", err)
	}
}

func TestUnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "discover",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("discover", pflag.ContinueOnError)
			flagSet.Bool("save", false, "")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}
	err := command.Execute([]string{"--sav"})
	if err == nil || !strings.Contains(err.Error(), "did you mean --save?") {
		t.Fatalf("error = %v", err)
	}
}

func TestSubcommandRequired(t *testing.T) {
	help := captureHelp(t)
	root := &Command{
		Name:        "push",
		Description: "Feed push credentials to the agent.",
		Subcommands: []*Command{{Name: "token", Summary: "set the push token"}},
	}
	if err := root.Execute(nil); err == nil {
		t.Fatal("Execute without a subcommand succeeded")
	}
	for _, want := range []string{"Feed push credentials", "token", "set the push token"} {
		if !strings.Contains(help.String(), want) {
			t.Errorf("help missing %q:\n%s", want, help.String())
		}
	}
}

func TestHelpFlagPrintsExamples(t *testing.T) {
	help := captureHelp(t)
	command := &Command{
		Name:     "emit",
		Summary:  "Send an event",
		Examples: []Example{{Description: "Report a door", Command: `omcli-device emit door.opened '{"door":"front"}'`}},
		Run:      func([]string) error { t.Error("run called for --help"); return nil },
	}
	if err := command.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(help.String(), "# Report a door") {
		t.Errorf("help = %q", help.String())
	}
}

func TestRequireArgs(t *testing.T) {
	command := &Command{Name: "emit", Usage: "omcli-device emit <event> [data]"}
	if err := command.RequireArgs([]string{"a"}, 1, 2); err != nil {
		t.Errorf("RequireArgs(1 of 1..2) = %v", err)
	}
	if err := command.RequireArgs(nil, 1, 2); err == nil {
		t.Error("requireArgs accepted too few")
	}
	if err := command.RequireArgs([]string{"a", "b", "c"}, 1, 2); err == nil {
		t.Error("requireArgs accepted too many")
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 3}
	var coder interface{ ExitCode() int }
	if !errors.As(err, &coder) || coder.ExitCode() != 3 {
		t.Errorf("ExitError does not report its code")
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buffer bytes.Buffer
	newLogger(&buffer, slog.LevelInfo, "json").Info("connecting", "endpoint", "ws://a")
	if !strings.HasPrefix(buffer.String(), "{") || !strings.Contains(buffer.String(), `"endpoint":"ws://a"`) {
		t.Errorf("json output = %q", buffer.String())
	}

	buffer.Reset()
	logger := newLogger(&buffer, slog.LevelWarn, "text")
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buffer.String(), "hidden") || !strings.Contains(buffer.String(), "msg=shown") {
		t.Errorf("text output = %q", buffer.String())
	}
}

func TestWriteJSONNilSlice(t *testing.T) {
	var buffer bytes.Buffer
	previous := Stdout
	Stdout = &buffer
	t.Cleanup(func() { Stdout = previous })

	var entries []string
	if err := WriteJSON(entries); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if got := strings.TrimSpace(buffer.String()); got != "[]" {
		t.Errorf("output = %q, want []", got)
	}
}
