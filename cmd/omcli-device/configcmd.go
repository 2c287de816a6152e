// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/omcli/omcli-device/cmd/omcli-device/cli"
	"github.com/omcli/omcli-device/lib/config"
)

func configCommand(g *globals) *cli.Command {
	set := &cli.Command{
		Name:    "set",
		Summary: "Change one setting",
		Usage:   "omcli-device config set <key> <value>",
		Description: "Change one setting and save the file. Settable keys: " +
			strings.Join(config.Settable, ", ") + ".\n" +
			"A running agent picks up server_url on its next dial; run\n" +
			"\"omcli-device reconnect\" to apply it now.",
		Flags: g.flags("set", nil),
	}
	set.Run = func(args []string) error {
		if err := set.RequireArgs(args, 2, 2); err != nil {
			return err
		}
		cfg, err := g.load()
		if err != nil {
			return err
		}
		if err := cfg.Set(args[0], args[1]); err != nil {
			return err
		}
		return cfg.Save(g.path())
	}

	return &cli.Command{
		Name:    "config",
		Summary: "Show or change settings",
		Subcommands: []*cli.Command{
			{
				Name:    "show",
				Summary: "Print the effective settings as YAML",
				Flags:   g.flags("show", nil),
				Run: func(args []string) error {
					cfg, err := g.load()
					if err != nil {
						return err
					}
					data, err := yaml.Marshal(cfg)
					if err != nil {
						return err
					}
					fmt.Fprintf(cli.Stdout, "# %s\n%s", g.path(), data)
					return nil
				},
			},
			set,
		},
	}
}
