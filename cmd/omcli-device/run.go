// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/omcli/omcli-device/cmd/omcli-device/cli"
	"github.com/omcli/omcli-device/lib/version"
)

func runCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:    "run",
		Summary: "Run the agent in the foreground",
		Description: "Run the agent: serve the control socket and, when a server is\n" +
			"configured, connect to it and keep reconnecting with backoff.\n" +
			"Stops on SIGINT or SIGTERM.",
		Flags: g.flags("run", nil),
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("run takes no arguments")
			}
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if g.socketPath != "" {
				cfg.Paths.ControlSocket = g.socketPath
			}
			level, _ := cfg.LogLevel()
			logger := cli.NewLogger(level, cfg.Log.Format)
			logger.Info("starting omcli-device", "version", version.Info(), "config", g.path())

			a, err := newAgent(cfg, g.path(), logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.serve(ctx); err != nil {
				return err
			}
			logger.Info("omcli-device stopped")
			return nil
		},
	}
}
