// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/exec"
	"text/tabwriter"
	"time"

	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/capability/camera"
	"github.com/omcli/omcli-device/capability/devstatus"
	"github.com/omcli/omcli-device/capability/location"
	"github.com/omcli/omcli-device/capability/notify"
	"github.com/omcli/omcli-device/capability/speech"
	"github.com/omcli/omcli-device/cmd/omcli-device/cli"
	"github.com/omcli/omcli-device/lib/clock"
	"github.com/omcli/omcli-device/lib/config"
	"github.com/omcli/omcli-device/lib/dbusutil"
)

// probeTimeout bounds each onboarding check. The location check may
// sit behind an authorization prompt, so it gets the configured fix
// timeout instead.
const probeTimeout = 10 * time.Second

type probe struct {
	name  string
	check func(ctx context.Context) error
}

func onboardCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:    "onboard",
		Summary: "Check what this device can do and mark setup complete",
		Description: "Exercise each capability once so that the desktop can ask for any\n" +
			"permission it needs (notifications, location, camera), report the\n" +
			"result, and set onboarding_complete.",
		Flags: g.flags("onboard", nil),
		Run: func(args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			probes := buildProbes(cfg)
			table := tabwriter.NewWriter(cli.Stdout, 2, 0, 2, ' ', 0)
			for _, p := range probes {
				timeout := probeTimeout
				if p.name == "location" {
					timeout = config.Duration(cfg.Location.FixTimeout) + probeTimeout
				}
				ctx, cancel := context.WithTimeout(context.Background(), timeout)
				err := p.check(ctx)
				cancel()
				result := "ok"
				if err != nil {
					code, message := capability.CodeOf(err)
					result = fmt.Sprintf("%s: %s", code, message)
				}
				fmt.Fprintf(table, "%s\t%s\n", p.name, result)
			}
			table.Flush()

			cfg.OnboardingComplete = true
			if err := cfg.Save(g.path()); err != nil {
				return err
			}
			fmt.Fprintln(cli.Stdout, "Onboarding complete.")
			return nil
		},
	}
}

func buildProbes(cfg *config.Config) []probe {
	sessionBus, sessionErr := dbusutil.SessionBus()
	systemBus, systemErr := dbusutil.SystemBus()
	unavailable := func(err error) func(context.Context) error {
		return func(context.Context) error {
			return capability.Wrap(capability.Unavailable, "probe", err)
		}
	}

	probes := []probe{
		{"alarm", func(context.Context) error {
			if _, err := exec.LookPath(cfg.Alarm.Player); err != nil {
				return capability.Errorf(capability.AlarmError, "probe", "Audio player %q is not installed", cfg.Alarm.Player)
			}
			return nil
		}},
		{"speech", func(context.Context) error {
			return (&speech.Speaker{Command: cfg.Speech.Command}).Probe()
		}},
	}

	if sessionErr != nil {
		probes = append(probes, probe{"notifications", unavailable(sessionErr)})
	} else {
		notifier := notify.New(sessionBus, cfg.Notify.AppName)
		probes = append(probes, probe{"notifications", func(ctx context.Context) error {
			if err := notifier.Probe(ctx); err != nil {
				return err
			}
			return notifier.Notify(ctx, "omcli", "Notifications are working", capability.PriorityNormal)
		}})
	}

	devices := map[capability.Facing]string{}
	if cfg.Camera.FrontDevice != "" {
		devices[capability.FacingFront] = cfg.Camera.FrontDevice
	}
	if cfg.Camera.BackDevice != "" {
		devices[capability.FacingBack] = cfg.Camera.BackDevice
	}
	probes = append(probes, probe{"camera", func(context.Context) error {
		return camera.New(camera.Config{Devices: devices, Command: cfg.Camera.Command}).Probe()
	}})

	switch {
	case cfg.Location.Provider == "none":
	case cfg.Location.Provider == "static":
		probes = append(probes, probe{"location", func(context.Context) error { return nil }})
	case systemErr != nil:
		probes = append(probes, probe{"location", unavailable(systemErr)})
	default:
		locator := location.NewGeoClue(systemBus, clock.Real(), cfg.Location.DesktopID, config.Duration(cfg.Location.FixTimeout))
		probes = append(probes, probe{"location", func(ctx context.Context) error {
			_, err := locator.Locate(ctx, capability.AccuracyCoarse)
			return err
		}})
	}

	if systemErr != nil {
		probes = append(probes, probe{"device status", unavailable(systemErr)})
	} else {
		reader := devstatus.New(systemBus)
		probes = append(probes, probe{"device status", func(ctx context.Context) error {
			_, err := reader.Status(ctx)
			return err
		}})
	}
	return probes
}
