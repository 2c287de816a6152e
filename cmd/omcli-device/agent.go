// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/omcli/omcli-device/call"
	"github.com/omcli/omcli-device/capability"
	"github.com/omcli/omcli-device/capability/alarm"
	"github.com/omcli/omcli-device/capability/camera"
	"github.com/omcli/omcli-device/capability/devstatus"
	"github.com/omcli/omcli-device/capability/location"
	"github.com/omcli/omcli-device/capability/notify"
	"github.com/omcli/omcli-device/capability/sleeplock"
	"github.com/omcli/omcli-device/capability/speech"
	"github.com/omcli/omcli-device/connection"
	"github.com/omcli/omcli-device/control"
	"github.com/omcli/omcli-device/lib/clock"
	"github.com/omcli/omcli-device/lib/config"
	"github.com/omcli/omcli-device/lib/credstore"
	"github.com/omcli/omcli-device/lib/dbusutil"
	"github.com/omcli/omcli-device/lib/logring"
	"github.com/omcli/omcli-device/lib/version"
	"github.com/omcli/omcli-device/router"
)

// fileSettings rereads the config file on every dial so that "config
// set server_url" or "discover --save" followed by "reconnect" takes
// effect without restarting the agent.
type fileSettings struct {
	path   string
	logger *slog.Logger

	mutex sync.Mutex
	last  *config.Config
}

func (s *fileSettings) current() *config.Config {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cfg, err := config.Load(s.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		s.logger.Warn("keeping previous settings", "path", s.path, "error", err)
		return s.last
	}
	s.last = cfg
	return cfg
}

func (s *fileSettings) Endpoint() string   { return s.current().ServerURL }
func (s *fileSettings) DeviceName() string { return s.current().DisplayName() }

// ringLogger tees the Info-and-above records of base into ring, the
// log that the status and log commands show.
func ringLogger(ring *logring.Ring, base *slog.Logger) *slog.Logger {
	return slog.New(logring.NewHandler(ring, base.Handler(), slog.LevelInfo))
}

// agent is the assembled daemon.
type agent struct {
	logger      *slog.Logger
	credentials *credstore.File
	sessionBus  *dbusutil.Conn
	systemBus   *dbusutil.Conn

	alarm   *alarm.Alarm
	camera  *camera.Camera
	calls   *call.Coordinator
	manager *connection.Manager
	server  *control.Server

	autoConnect bool
}

// newAgent wires every component from cfg. A missing D-Bus leaves the
// capabilities that need it unavailable rather than failing startup.
func newAgent(cfg *config.Config, configPath string, logger *slog.Logger) (*agent, error) {
	a := &agent{logger: logger, autoConnect: cfg.ServerURL != ""}
	clk := clock.Real()
	ring := logring.New(logring.DefaultCapacity)
	shared := ringLogger(ring, logger)

	credentials, err := credstore.OpenFile(cfg.Paths.StateDir)
	if err != nil {
		return nil, fmt.Errorf("opening credentials: %w", err)
	}
	a.credentials = credentials

	if a.sessionBus, err = dbusutil.SessionBus(); err != nil {
		logger.Warn("notifications unavailable", "error", err)
	}
	if a.systemBus, err = dbusutil.SystemBus(); err != nil {
		logger.Warn("location, sleep lock and device status unavailable", "error", err)
	}

	var capabilities router.Capabilities
	var notifier capability.Notifier
	if a.sessionBus != nil {
		notifier = notify.New(a.sessionBus, cfg.Notify.AppName)
		capabilities.Notifier = notifier
	}

	a.alarm = alarm.New(alarm.Config{
		Player:     cfg.Alarm.Player,
		PlayerArgs: cfg.Alarm.PlayerArgs,
		Notifier:   notifier,
		Clock:      clk,
		Logger:     shared.With("capability", "alarm"),
	})
	capabilities.Alarm = a.alarm

	capabilities.Speaker = &speech.Speaker{
		Command:      cfg.Speech.Command,
		DefaultVoice: cfg.Speech.DefaultVoice,
	}

	devices := map[capability.Facing]string{}
	if cfg.Camera.FrontDevice != "" {
		devices[capability.FacingFront] = cfg.Camera.FrontDevice
	}
	if cfg.Camera.BackDevice != "" {
		devices[capability.FacingBack] = cfg.Camera.BackDevice
	}
	a.camera = camera.New(camera.Config{
		Devices:         devices,
		Command:         cfg.Camera.Command,
		ApprovalTimeout: config.Duration(cfg.Camera.ApprovalTimeout),
		Clock:           clk,
		Notifier:        notifier,
		Logger:          shared.With("capability", "camera"),
	})
	capabilities.Camera = a.camera

	switch cfg.Location.Provider {
	case "geoclue":
		if a.systemBus != nil {
			capabilities.Locator = location.NewGeoClue(a.systemBus, clk, cfg.Location.DesktopID, config.Duration(cfg.Location.FixTimeout))
		}
	case "static":
		capabilities.Locator = &location.Static{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
			Accuracy:  cfg.Location.Accuracy,
			Clock:     clk,
		}
	}

	var keepAlive connection.KeepAlive
	if a.systemBus != nil {
		capabilities.SleepLock = sleeplock.NewLock(a.systemBus)
		capabilities.Status = devstatus.New(a.systemBus)
		keepAlive = sleeplock.NewKeepAlive(a.systemBus, shared.With("component", "keepalive"))
	}

	a.manager, err = connection.New(connection.Config{
		Clock: clk,
		Dialer: &connection.WebSocketDialer{
			Timeout:   config.Duration(cfg.Connection.DialTimeout),
			ReadLimit: cfg.Connection.MaxFrameBytes,
			UserAgent: "omcli-device/" + version.Version,
		},
		Credentials: credentials,
		Settings:    &fileSettings{path: configPath, logger: logger, last: cfg},
		Handler:     router.New(capabilities, shared.With("component", "router")),
		KeepAlive:   keepAlive,
		Logger:      logger.With("component", "connection"),
		Ring:        ring,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.calls, err = call.New(call.Config{
		Alarm:    a.alarm,
		Notifier: notifier,
		Link:     a.manager,
		Logger:   shared.With("component", "call"),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.server, err = control.NewServer(control.Config{
		SocketPath: cfg.Paths.ControlSocket,
		Connection: a.manager,
		Camera:     a.camera,
		Calls:      a.calls,
		Alarm:      a.alarm,
		Logger:     logger.With("component", "control"),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// serve runs until ctx is cancelled.
func (a *agent) serve(ctx context.Context) error {
	if a.autoConnect {
		if err := a.manager.Connect(); err != nil {
			a.logger.Warn("initial connect failed", "error", err)
		}
	} else {
		a.logger.Info("no server configured; run \"omcli-device discover --save\" or \"omcli-device config set server_url ...\"")
	}

	err := a.server.Serve(ctx)

	a.manager.Disconnect()
	stopContext := context.WithoutCancel(ctx)
	if stopErr := a.alarm.Stop(stopContext); stopErr != nil {
		a.logger.Warn("stopping alarm", "error", stopErr)
	}
	return err
}

func (a *agent) close() {
	var errs []error
	if a.credentials != nil {
		errs = append(errs, a.credentials.Close())
	}
	if a.sessionBus != nil {
		errs = append(errs, a.sessionBus.Close())
	}
	if a.systemBus != nil {
		errs = append(errs, a.systemBus.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("closing agent resources", "error", err)
	}
}
