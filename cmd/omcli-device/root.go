// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/omcli/omcli-device/cmd/omcli-device/cli"
	"github.com/omcli/omcli-device/control"
	"github.com/omcli/omcli-device/lib/config"
	"github.com/omcli/omcli-device/lib/version"
)

// globals are the flags every subcommand accepts.
type globals struct {
	configPath string
	socketPath string
}

func (g *globals) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&g.configPath, "config", "", "config file (default $OMCLI_DEVICE_CONFIG or $XDG_CONFIG_HOME/omcli-device/config.yaml)")
	flagSet.StringVar(&g.socketPath, "socket", "", "control socket of the running agent (default from config)")
}

// path is the config file location.
func (g *globals) path() string {
	if g.configPath != "" {
		return g.configPath
	}
	return config.DefaultPath()
}

// load reads and validates the config file. A missing file yields the
// defaults.
func (g *globals) load() (*config.Config, error) {
	cfg, err := config.Load(g.path())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", g.path(), err)
	}
	return cfg, nil
}

// client connects to the running agent's control socket.
func (g *globals) client() (*control.Client, error) {
	if g.socketPath != "" {
		return control.NewClient(g.socketPath), nil
	}
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return control.NewClient(cfg.Paths.ControlSocket), nil
}

// flags builds a flag set holding the globals plus whatever extra adds.
func (g *globals) flags(name string, extra func(*pflag.FlagSet)) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		g.register(flagSet)
		if extra != nil {
			extra(flagSet)
		}
		return flagSet
	}
}

// requestTimeout bounds one control socket round trip.
const requestTimeout = 30 * time.Second

func root() *cli.Command {
	g := &globals{}
	return &cli.Command{
		Name:        "omcli-device",
		Description: "Device agent for an omcli operator server.\n\nThe agent keeps a websocket open to the server, pairs with it, and\nexecutes its commands (alarm, notifications, speech, location, camera,\nsleep prevention, device status). Run \"omcli-device run\" as a user\nservice; the other commands talk to it over its control socket.",
		Subcommands: []*cli.Command{
			runCommand(g),
			statusCommand(g),
			logCommand(g),
			simpleAction(g, "connect", "Connect to the configured server", control.ActionConnect),
			simpleAction(g, "disconnect", "Close the connection and stop reconnecting", control.ActionDisconnect),
			simpleAction(g, "reconnect", "Drop the connection and dial again", control.ActionReconnect),
			simpleAction(g, "unpair", "Forget this server's token and disconnect", control.ActionUnpair),
			{
				Name:    "camera",
				Summary: "Answer a pending photo request",
				Subcommands: []*cli.Command{
					simpleAction(g, "approve", "Take the requested photo", control.ActionCameraApprove),
					simpleAction(g, "decline", "Refuse the requested photo", control.ActionCameraDecline),
				},
			},
			{
				Name:    "call",
				Summary: "Answer or decline an incoming alarm call",
				Subcommands: []*cli.Command{
					simpleAction(g, "answer", "Start the alarm the call announced", control.ActionCallAnswer),
					simpleAction(g, "decline", "End the call and silence the alarm", control.ActionCallDecline),
				},
			},
			{
				Name:    "alarm",
				Summary: "Control the local alarm",
				Subcommands: []*cli.Command{
					alarmDismissCommand(g),
				},
			},
			emitCommand(g),
			pushCommand(g),
			discoverCommand(g),
			configCommand(g),
			onboardCommand(g),
			credentialsCommand(g),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					fmt.Fprintln(cli.Stdout, "omcli-device "+version.Full())
					return nil
				},
			},
		},
	}
}
