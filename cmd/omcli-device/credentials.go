// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/omcli/omcli-device/cmd/omcli-device/cli"
	"github.com/omcli/omcli-device/lib/credstore"
)

func credentialsCommand(g *globals) *cli.Command {
	importLegacy := &cli.Command{
		Name:    "import-legacy",
		Summary: "Seed the store with a token from a pre-pairing-per-server install",
		Usage:   "omcli-device credentials import-legacy <device-id> <token>",
		Description: "Seed an empty credential store with a device id and a token that\n" +
			"is not yet tied to a server. On its first connection the agent\n" +
			"binds the token to that server's URL.",
		Flags: g.flags("import-legacy", nil),
	}
	importLegacy.Run = func(args []string) error {
		if err := importLegacy.RequireArgs(args, 2, 2); err != nil {
			return err
		}
		cfg, err := g.load()
		if err != nil {
			return err
		}
		if err := credstore.ImportLegacy(cfg.Paths.StateDir, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cli.Stdout, "Imported device %s into %s\n", args[0], cfg.Paths.StateDir)
		return nil
	}

	return &cli.Command{
		Name:        "credentials",
		Summary:     "Manage the sealed credential store",
		Subcommands: []*cli.Command{importLegacy},
	}
}
