// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"golang.org/x/sys/unix"

	"github.com/omcli/omcli-device/cmd/omcli-device/cli"
	"github.com/omcli/omcli-device/control"
)

// exitNotRunning is the status exit code when no agent answers.
const exitNotRunning = 3

// request performs one control round trip with the standard timeout.
func request(g *globals, action string, fields map[string]any, result any) error {
	client, err := g.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return client.Call(ctx, action, fields, result)
}

// agentDown reports whether err means nothing is listening on the
// control socket.
func agentDown(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ECONNREFUSED)
}

func simpleAction(g *globals, name, summary, action string) *cli.Command {
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Flags:   g.flags(name, nil),
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%s takes no arguments", name)
			}
			return request(g, action, nil, nil)
		},
	}
}

func statusCommand(g *globals) *cli.Command {
	var outputJSON bool
	command := &cli.Command{
		Name:    "status",
		Summary: "Show the connection state",
		Description: "Show the agent's connection state, the pairing code while one is\n" +
			"pending, and any request waiting on the user. Exits 3 when the\n" +
			"agent is not running.",
		Flags: g.flags("status", func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
		}),
	}
	command.Run = func(args []string) error {
		client, err := g.client()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		status, err := client.Status(ctx)
		if agentDown(err) {
			fmt.Fprintln(os.Stderr, "omcli-device agent is not running")
			return &cli.ExitError{Code: exitNotRunning}
		}
		if err != nil {
			return err
		}
		if outputJSON {
			return cli.WriteJSON(statusJSON(status))
		}
		printStatus(status)
		return nil
	}
	return command
}

type statusOutput struct {
	State         string `json:"state"`
	Endpoint      string `json:"endpoint,omitempty"`
	PairingCode   string `json:"pairing_code,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`
	LastCommand   string `json:"last_command,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	CameraPending string `json:"camera_pending,omitempty"`
	CallPending   bool   `json:"call_pending,omitempty"`
	AlarmRinging  bool   `json:"alarm_ringing,omitempty"`
}

func statusJSON(s control.StatusReply) statusOutput {
	return statusOutput(s)
}

func printStatus(s control.StatusReply) {
	table := tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(table, "%s:\t%s\n", label, value)
		}
	}
	row("State", s.State)
	row("Server", s.Endpoint)
	if s.PairingCode != "" {
		row("Pairing code", s.PairingCode+"  (enter with: omcli pair "+s.PairingCode+")")
	}
	if s.Attempt > 0 {
		row("Reconnect attempt", fmt.Sprint(s.Attempt))
	}
	row("Last command", s.LastCommand)
	row("Last error", s.LastError)
	if s.CameraPending != "" {
		row("Photo request", s.CameraPending+" camera (omcli-device camera approve|decline)")
	}
	if s.CallPending {
		row("Incoming call", "omcli-device call answer|decline")
	}
	if s.AlarmRinging {
		row("Alarm", "ringing (omcli-device alarm dismiss)")
	}
	table.Flush()
}

func logCommand(g *globals) *cli.Command {
	var outputJSON bool
	return &cli.Command{
		Name:    "log",
		Summary: "Show recent connection log entries, newest first",
		Flags: g.flags("log", func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&outputJSON, "json", false, "output as JSON")
		}),
		Run: func(args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			entries, err := client.Log(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				type entryOutput struct {
					Time    time.Time `json:"time"`
					Level   string    `json:"level"`
					Message string    `json:"message"`
				}
				output := make([]entryOutput, len(entries))
				for i, entry := range entries {
					output[i] = entryOutput(entry)
				}
				return cli.WriteJSON(output)
			}
			for _, entry := range entries {
				fmt.Fprintf(cli.Stdout, "%s  %-5s  %s\n", entry.Time.Local().Format(time.TimeOnly), entry.Level, entry.Message)
			}
			return nil
		},
	}
}

func alarmDismissCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:    "dismiss",
		Summary: "Stop the ringing alarm and tell the server",
		Flags:   g.flags("dismiss", nil),
		Run: func(args []string) error {
			client, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			reply, err := client.Dismiss(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "Alarm dismissed at %s\n", reply.DismissedAt)
			if !reply.Reported {
				fmt.Fprintln(os.Stderr, "warning: not paired, the server was not told")
			}
			return nil
		},
	}
}

// jsonArgument converts a JSON-with-comments argument to strict JSON.
func jsonArgument(what, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	converted := jsonc.ToJSON([]byte(text))
	if !json.Valid(converted) {
		return "", fmt.Errorf("%s is not valid JSON: %s", what, text)
	}
	return string(converted), nil
}

func emitCommand(g *globals) *cli.Command {
	command := &cli.Command{
		Name:    "emit",
		Summary: "Send a custom event to the server",
		Usage:   "omcli-device emit <event> [json-data]",
		Examples: []cli.Example{
			{Description: "Report that the front door opened", Command: `omcli-device emit door.opened '{"door": "front"}'`},
		},
		Flags: g.flags("emit", nil),
	}
	command.Run = func(args []string) error {
		if err := command.RequireArgs(args, 1, 2); err != nil {
			return err
		}
		data := ""
		if len(args) == 2 {
			var err error
			if data, err = jsonArgument("event data", args[1]); err != nil {
				return err
			}
		}
		client, err := g.client()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return client.Emit(ctx, args[0], data)
	}
	return command
}

func pushCommand(g *globals) *cli.Command {
	token := func(name, summary, action string) *cli.Command {
		command := &cli.Command{
			Name:    name,
			Summary: summary,
			Usage:   "omcli-device push " + name + " <token>",
			Flags:   g.flags(name, nil),
		}
		command.Run = func(args []string) error {
			if err := command.RequireArgs(args, 1, 1); err != nil {
				return err
			}
			return request(g, action, map[string]any{"token": args[0]}, nil)
		}
		return command
	}

	wake := &cli.Command{
		Name:    "wake",
		Summary: "Deliver a push: reconnect, and ring if it carries a call",
		Usage:   "omcli-device push wake [json-payload]",
		Examples: []cli.Example{
			{Description: "A call push carrying an alarm", Command: `omcli-device push wake '{"omcli": {"params": {"sound": "loud", "message": "Wake up"}}}'`},
		},
		Flags: g.flags("wake", nil),
	}
	wake.Run = func(args []string) error {
		if err := wake.RequireArgs(args, 0, 1); err != nil {
			return err
		}
		fields := map[string]any{}
		if len(args) == 1 {
			payload, err := jsonArgument("push payload", args[0])
			if err != nil {
				return err
			}
			fields["payload"] = payload
		}
		return request(g, control.ActionPushWake, fields, nil)
	}

	return &cli.Command{
		Name:        "push",
		Summary:     "Feed push notifications to the agent",
		Description: "Used by the platform push daemon: register push tokens with the\nserver and deliver incoming pushes.",
		Subcommands: []*cli.Command{
			token("token", "Register the push token", control.ActionPushToken),
			token("voip-token", "Register the call push token", control.ActionVoIPToken),
			wake,
		},
	}
}
