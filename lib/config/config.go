// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/omcli/omcli-device/lib/atomicfile"
)

// EnvironmentVariable names the variable consulted when --config is
// not given.
const EnvironmentVariable = "OMCLI_DEVICE_CONFIG"

// Config is the agent's full settings document.
type Config struct {
	// ServerURL is the operator server endpoint (ws:// or wss://).
	// Empty until the device is pointed at a server; the agent does not
	// connect without it.
	ServerURL string `yaml:"server_url"`

	// DeviceName is the display name sent in hello. Empty means the
	// hostname.
	DeviceName string `yaml:"device_name"`

	// OnboardingComplete is set once "omcli-device onboard" has probed
	// the capabilities.
	OnboardingComplete bool `yaml:"onboarding_complete"`

	Paths      PathsConfig      `yaml:"paths"`
	Log        LogConfig        `yaml:"log"`
	Connection ConnectionConfig `yaml:"connection"`
	Alarm      AlarmConfig      `yaml:"alarm"`
	Speech     SpeechConfig     `yaml:"speech"`
	Camera     CameraConfig     `yaml:"camera"`
	Location   LocationConfig   `yaml:"location"`
	Notify     NotifyConfig     `yaml:"notify"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// StateDir holds credentials.age and the identity key.
	StateDir string `yaml:"state_dir"`

	// ControlSocket is the unix socket the CLI uses to reach a running
	// agent.
	ControlSocket string `yaml:"control_socket"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is auto (text on a terminal, JSON otherwise), text, or
	// json.
	Format string `yaml:"format"`
}

// ConnectionConfig tunes the server transport.
type ConnectionConfig struct {
	// DialTimeout bounds the websocket handshake, as a Go duration.
	DialTimeout string `yaml:"dial_timeout"`

	// MaxFrameBytes caps a single inbound frame.
	MaxFrameBytes int64 `yaml:"max_frame_bytes"`
}

// AlarmConfig selects the audio player.
type AlarmConfig struct {
	// Player is run as "<player> [args...] <wav-file>" once per loop.
	Player string `yaml:"player"`

	// PlayerArgs precede the file name.
	PlayerArgs []string `yaml:"player_args"`
}

// SpeechConfig selects the speech synthesizer.
type SpeechConfig struct {
	// Command is the synthesizer binary. It receives "-v <voice>" when a
	// voice is requested and the text as its final argument.
	Command string `yaml:"command"`

	// DefaultVoice is used when a command names no voice.
	DefaultVoice string `yaml:"default_voice"`
}

// CameraConfig maps facings to video devices.
type CameraConfig struct {
	// FrontDevice and BackDevice are V4L2 device nodes. An empty value
	// makes that facing unavailable.
	FrontDevice string `yaml:"front_device"`
	BackDevice  string `yaml:"back_device"`

	// Command captures one JPEG to stdout. "{device}" in any argument
	// is replaced with the device node.
	Command []string `yaml:"command"`

	// ApprovalTimeout bounds the wait for "camera approve" or
	// "camera decline", as a Go duration.
	ApprovalTimeout string `yaml:"approval_timeout"`
}

// LocationConfig selects the location provider.
type LocationConfig struct {
	// Provider is geoclue, static, or none.
	Provider string `yaml:"provider"`

	// DesktopID identifies the agent to GeoClue's authorization agent.
	DesktopID string `yaml:"desktop_id"`

	// FixTimeout bounds the wait for a GeoClue fix, as a Go duration.
	FixTimeout string `yaml:"fix_timeout"`

	// Latitude, Longitude and Accuracy (meters) are reported by the
	// static provider.
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy"`
}

// NotifyConfig configures desktop notifications.
type NotifyConfig struct {
	AppName string `yaml:"app_name"`
}

// DiscoveryConfig configures mDNS server discovery.
type DiscoveryConfig struct {
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`
	Timeout string `yaml:"timeout"`
}

// Default returns the settings used for any field the file leaves out.
func Default() *Config {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		homeDirectory, _ := os.UserHomeDir()
		stateHome = filepath.Join(homeDirectory, ".local", "state")
	}
	runtimeDirectory := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDirectory == "" {
		runtimeDirectory = os.TempDir()
	}

	return &Config{
		Paths: PathsConfig{
			StateDir:      filepath.Join(stateHome, "omcli-device"),
			ControlSocket: filepath.Join(runtimeDirectory, "omcli-device.sock"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Connection: ConnectionConfig{
			DialTimeout:   "15s",
			MaxFrameBytes: 1 << 20,
		},
		Alarm: AlarmConfig{
			Player: "paplay",
		},
		Speech: SpeechConfig{
			Command: "espeak-ng",
		},
		Camera: CameraConfig{
			BackDevice: "/dev/video0",
			Command: []string{
				"ffmpeg", "-hide_banner", "-loglevel", "error",
				"-f", "v4l2", "-i", "{device}",
				"-frames:v", "1", "-f", "image2", "-c:v", "mjpeg", "pipe:1",
			},
			ApprovalTimeout: "2m",
		},
		Location: LocationConfig{
			Provider:   "geoclue",
			DesktopID:  "omcli-device",
			FixTimeout: "30s",
		},
		Notify: NotifyConfig{
			AppName: "omcli",
		},
		Discovery: DiscoveryConfig{
			Service: "_omcli._tcp",
			Domain:  "local.",
			Timeout: "3s",
		},
	}
}

// DefaultPath resolves the config file location when --config is not
// given.
func DefaultPath() string {
	if path := os.Getenv(EnvironmentVariable); path != "" {
		return path
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDirectory, _ := os.UserHomeDir()
		configHome = filepath.Join(homeDirectory, ".config")
	}
	return filepath.Join(configHome, "omcli-device", "config.yaml")
}

// Load reads path, treating a missing file as an empty one.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return cfg, err
}

// LoadFile reads path over the defaults. The file must exist.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// Save writes the config to path with mode 0600, creating the parent
// directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return atomicfile.Write(path, data, 0600)
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}

	c.Paths.StateDir = expandVars(c.Paths.StateDir, vars)
	vars["STATE_DIR"] = c.Paths.StateDir
	c.Paths.ControlSocket = expandVars(c.Paths.ControlSocket, vars)
	c.ServerURL = expandVars(c.ServerURL, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}, preferring vars over
// the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// ValidateEndpoint accepts absolute ws:// and wss:// URLs with a host.
func ValidateEndpoint(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", endpoint, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("server URL %q must use ws:// or wss://", endpoint)
	}
	if parsed.Host == "" {
		return fmt.Errorf("server URL %q has no host", endpoint)
	}
	return nil
}

func (l LocationConfig) validateCoordinates() []error {
	var errs []error
	for name, value := range map[string]float64{
		"location.latitude":  l.Latitude,
		"location.longitude": l.Longitude,
		"location.accuracy":  l.Accuracy,
	} {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			errs = append(errs, fmt.Errorf("%s must be a finite number", name))
		}
	}
	if math.Abs(l.Latitude) > 90 {
		errs = append(errs, fmt.Errorf("location.latitude must be within [-90, 90]"))
	}
	if math.Abs(l.Longitude) > 180 {
		errs = append(errs, fmt.Errorf("location.longitude must be within [-180, 180]"))
	}
	if l.Accuracy < 0 {
		errs = append(errs, fmt.Errorf("location.accuracy must not be negative"))
	}
	return errs
}

// Validate checks the document for errors. An empty server_url is
// valid: the agent runs but stays disconnected.
func (c *Config) Validate() error {
	var errs []error

	if c.ServerURL != "" {
		if err := ValidateEndpoint(c.ServerURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Paths.StateDir == "" {
		errs = append(errs, fmt.Errorf("paths.state_dir is required"))
	}
	if c.Paths.ControlSocket == "" {
		errs = append(errs, fmt.Errorf("paths.control_socket is required"))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{"auto", "text", "json"}, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of auto, text, json"))
	}
	if !slices.Contains([]string{"geoclue", "static", "none"}, c.Location.Provider) {
		errs = append(errs, fmt.Errorf("location.provider must be one of geoclue, static, none"))
	}
	errs = append(errs, c.Location.validateCoordinates()...)
	if c.Connection.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("connection.max_frame_bytes must be positive"))
	}
	for name, value := range map[string]string{
		"connection.dial_timeout": c.Connection.DialTimeout,
		"location.fix_timeout":    c.Location.FixTimeout,
		"discovery.timeout":       c.Discovery.Timeout,
		"camera.approval_timeout": c.Camera.ApprovalTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// DisplayName returns DeviceName, or the hostname when unset.
func (c *Config) DisplayName() string {
	if c.DeviceName != "" {
		return c.DeviceName
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "omcli-device"
}

// Duration parses one of the duration-valued settings. Validate has
// already rejected malformed values, so callers may ignore the error
// after validation.
func Duration(value string) time.Duration {
	parsed, _ := time.ParseDuration(value)
	return parsed
}

// Settable lists the keys "omcli-device config set" accepts.
var Settable = []string{"server_url", "device_name", "onboarding_complete", "log.level", "location.provider"}

// Set assigns one setting by key and validates the result.
func (c *Config) Set(key, value string) error {
	switch key {
	case "server_url":
		if value != "" {
			if err := ValidateEndpoint(value); err != nil {
				return err
			}
		}
		c.ServerURL = value
	case "device_name":
		c.DeviceName = value
	case "onboarding_complete":
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("onboarding_complete: %w", err)
		}
		c.OnboardingComplete = parsed
	case "log.level":
		c.Log.Level = value
	case "location.provider":
		c.Location.Provider = value
	default:
		return fmt.Errorf("unknown setting %q (settable: %v)", key, Settable)
	}
	return c.Validate()
}
