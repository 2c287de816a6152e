// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/omcli/omcli-device/cmd/omcli-device/cli"
	"github.com/omcli/omcli-device/discovery"
	"github.com/omcli/omcli-device/lib/config"
)

func discoverCommand(g *globals) *cli.Command {
	var save bool
	var timeout string
	return &cli.Command{
		Name:    "discover",
		Summary: "Find operator servers on the local network",
		Examples: []cli.Example{
			{Description: "Point the agent at the first server found", Command: "omcli-device discover --save && omcli-device reconnect"},
		},
		Flags: g.flags("discover", func(flagSet *pflag.FlagSet) {
			flagSet.BoolVar(&save, "save", false, "write the first server's URL to the config")
			flagSet.StringVar(&timeout, "timeout", "", "how long to listen (default from config)")
		}),
		Run: func(args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if timeout != "" {
				cfg.Discovery.Timeout = timeout
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			servers, err := discovery.Browse(context.Background(), discovery.Options{
				Service: cfg.Discovery.Service,
				Domain:  cfg.Discovery.Domain,
				Timeout: config.Duration(cfg.Discovery.Timeout),
			})
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				fmt.Fprintln(os.Stderr, "no servers found")
				return &cli.ExitError{Code: 1}
			}

			table := tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
			fmt.Fprintln(table, "NAME\tURL\tVERSION")
			for _, server := range servers {
				fmt.Fprintf(table, "%s\t%s\t%s\n", server.Instance, server.URL(), server.Version)
			}
			table.Flush()

			if !save {
				return nil
			}
			if err := cfg.Set("server_url", servers[0].URL()); err != nil {
				return err
			}
			if err := cfg.Save(g.path()); err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "Saved server_url = %s\n", servers[0].URL())
			return nil
		},
	}
}
