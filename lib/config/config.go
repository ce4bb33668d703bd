// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development points at a local or test lobby.
	Development Environment = "development"
	// Production points at the public lobby.
	Production Environment = "production"
)

// Config is the master configuration for skirmish.
type Config struct {
	Environment Environment `yaml:"environment"`

	// Server configures the lobby connection.
	Server ServerConfig `yaml:"server"`

	// Paths configures directory and file locations.
	Paths PathsConfig `yaml:"paths"`

	// Game configures the game launch helper.
	Game GameConfig `yaml:"game"`

	// ICE configures the NAT-traversal adapter.
	ICE ICEConfig `yaml:"ice"`

	// Relay configures the local replay relay.
	Relay RelayConfig `yaml:"relay"`

	// Logs configures post-game log upload.
	Logs LogsConfig `yaml:"logs"`

	// IRC configures the in-game chat channel.
	IRC IRCConfig `yaml:"irc"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Server *ServerConfig `yaml:"server,omitempty"`
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
}

// ServerConfig configures the lobby connection.
type ServerConfig struct {
	// URL is the websocket endpoint of the lobby server.
	URL string `yaml:"url"`

	// ReconnectInterval is the minimum spacing between reconnect
	// attempts. Default: 5s
	ReconnectInterval string `yaml:"reconnect_interval"`

	// ReconnectBurst is how many reconnects may happen back to back
	// before ReconnectInterval applies. Default: 3
	ReconnectBurst int `yaml:"reconnect_burst"`

	// APIURL serves the featured mod catalog. Empty accepts any
	// featured mod name as is.
	APIURL string `yaml:"api_url"`

	// MapsURL is the base URL map archives are downloaded from. Empty
	// disables downloads.
	MapsURL string `yaml:"maps_url"`
}

// PathsConfig configures directory and file locations.
type PathsConfig struct {
	// Root is the base directory for skirmish data.
	Root string `yaml:"root"`

	// State holds the running-session file.
	State string `yaml:"state"`

	// Logs is where client, adapter, launcher, and game logs land.
	Logs string `yaml:"logs"`

	// Replays is where local copies of relayed replays are written.
	Replays string `yaml:"replays"`

	// Preferences is the player's JSON-with-comments preferences file.
	Preferences string `yaml:"preferences"`

	// History is the SQLite database of recently played sessions.
	History string `yaml:"history"`

	// Maps holds installed map archives.
	Maps string `yaml:"maps"`
}

// GameConfig configures the game launch helper.
type GameConfig struct {
	// LauncherBinary is the helper that prepares the game install
	// before a launch.
	LauncherBinary string `yaml:"launcher_binary"`

	// ReplayArgument is the flag the game uses to open a replay.
	// Default: /replay
	ReplayArgument string `yaml:"replay_argument"`
}

// ICEConfig configures the NAT-traversal adapter.
type ICEConfig struct {
	// Binary is the ICE adapter executable.
	Binary string `yaml:"binary"`

	// Servers are the STUN and TURN servers handed to the adapter.
	Servers []ICEServer `yaml:"servers"`

	// StartupTimeout bounds how long the adapter may take to open its
	// RPC port. Default: 10s
	StartupTimeout string `yaml:"startup_timeout"`
}

// ICEServer is one STUN or TURN server.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// RelayConfig configures the local replay relay.
type RelayConfig struct {
	// Upstream is the host:port of the remote replay server. Empty
	// disables forwarding; the local copy is still written.
	Upstream string `yaml:"upstream"`

	// Compression selects the local copy format: zstd, lz4, or none.
	// Default: zstd
	Compression string `yaml:"compression"`
}

// LogsConfig configures post-game log upload.
type LogsConfig struct {
	// UploadURL receives the packaged log archive. Empty disables
	// upload; the archive is still built and removed.
	UploadURL string `yaml:"upload_url"`
}

// IRCConfig configures the in-game chat channel.
type IRCConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "skirmish")

	return &Config{
		Environment: Development,
		Server: ServerConfig{
			URL:               "ws://localhost:8001/lobby",
			ReconnectInterval: "5s",
			ReconnectBurst:    3,
		},
		Paths: PathsConfig{
			Root:        defaultRoot,
			State:       filepath.Join(defaultRoot, "state"),
			Logs:        filepath.Join(defaultRoot, "logs"),
			Replays:     filepath.Join(defaultRoot, "replays"),
			Preferences: filepath.Join(defaultRoot, "preferences.jsonc"),
			History:     filepath.Join(defaultRoot, "history.db"),
			Maps:        filepath.Join(defaultRoot, "maps"),
		},
		Game: GameConfig{
			LauncherBinary: "skirmish-game-launcher",
			ReplayArgument: "/replay",
		},
		ICE: ICEConfig{
			Binary:         "ice-adapter",
			StartupTimeout: "10s",
		},
		Relay: RelayConfig{
			Compression: "zstd",
		},
		IRC: IRCConfig{
			Port: 6667,
		},
	}
}

// Load loads configuration from the SKIRMISH_CONFIG environment variable.
func Load() (*Config, error) {
	configPath := os.Getenv("SKIRMISH_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("SKIRMISH_CONFIG environment variable not set; " +
			"set it to the path of your skirmish.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var process processOverrides
	if err := env.Parse(&process); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if process.Environment != "" {
		cfg.Environment = process.Environment
	}
	cfg.applyEnvironmentOverrides()
	process.apply(cfg)
	cfg.expandVariables()

	return cfg, nil
}

// processOverrides come from the process environment and win over the
// file, so one run can point at another server without editing it.
type processOverrides struct {
	Environment Environment `env:"SKIRMISH_ENVIRONMENT"`
	ServerURL   string      `env:"SKIRMISH_SERVER_URL"`
	APIURL      string      `env:"SKIRMISH_API_URL"`
	MapsURL     string      `env:"SKIRMISH_MAPS_URL"`
	UploadURL   string      `env:"SKIRMISH_LOG_UPLOAD_URL"`
	ICEBinary   string      `env:"SKIRMISH_ICE_BINARY"`
}

func (p processOverrides) apply(c *Config) {
	for target, value := range map[*string]string{
		&c.Server.URL:     p.ServerURL,
		&c.Server.APIURL:  p.APIURL,
		&c.Server.MapsURL: p.MapsURL,
		&c.Logs.UploadURL: p.UploadURL,
		&c.ICE.Binary:     p.ICEBinary,
	} {
		if value != "" {
			*target = value
		}
	}
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if overrides.Server != nil {
		if overrides.Server.URL != "" {
			c.Server.URL = overrides.Server.URL
		}
		if overrides.Server.ReconnectInterval != "" {
			c.Server.ReconnectInterval = overrides.Server.ReconnectInterval
		}
		if overrides.Server.ReconnectBurst != 0 {
			c.Server.ReconnectBurst = overrides.Server.ReconnectBurst
		}
		if overrides.Server.APIURL != "" {
			c.Server.APIURL = overrides.Server.APIURL
		}
		if overrides.Server.MapsURL != "" {
			c.Server.MapsURL = overrides.Server.MapsURL
		}
	}

	if overrides.Paths != nil {
		apply := func(target *string, value string) {
			if value != "" {
				*target = value
			}
		}
		apply(&c.Paths.Root, overrides.Paths.Root)
		apply(&c.Paths.State, overrides.Paths.State)
		apply(&c.Paths.Logs, overrides.Paths.Logs)
		apply(&c.Paths.Replays, overrides.Paths.Replays)
		apply(&c.Paths.Preferences, overrides.Paths.Preferences)
		apply(&c.Paths.History, overrides.Paths.History)
		apply(&c.Paths.Maps, overrides.Paths.Maps)
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"SKIRMISH_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SKIRMISH_ROOT"] = c.Paths.Root

	c.Paths.State = expandVars(c.Paths.State, vars)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars)
	c.Paths.Replays = expandVars(c.Paths.Replays, vars)
	c.Paths.Preferences = expandVars(c.Paths.Preferences, vars)
	c.Paths.History = expandVars(c.Paths.History, vars)
	c.Paths.Maps = expandVars(c.Paths.Maps, vars)
	c.Game.LauncherBinary = expandVars(c.Game.LauncherBinary, vars)
	c.ICE.Binary = expandVars(c.ICE.Binary, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Server.URL == "" {
		errs = append(errs, fmt.Errorf("server.url is required"))
	}
	if _, err := c.ReconnectInterval(); err != nil {
		errs = append(errs, fmt.Errorf("server.reconnect_interval: %w", err))
	}
	if c.Server.ReconnectBurst < 1 {
		errs = append(errs, fmt.Errorf("server.reconnect_burst must be at least 1"))
	}
	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if c.Paths.State == "" {
		errs = append(errs, fmt.Errorf("paths.state is required"))
	}
	if _, err := c.ICEStartupTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("ice.startup_timeout: %w", err))
	}

	compressions := []string{"zstd", "lz4", "none"}
	if !slices.Contains(compressions, c.Relay.Compression) {
		errs = append(errs, fmt.Errorf("relay.compression must be one of: %v", compressions))
	}

	if c.IRC.Host != "" && (c.IRC.Port <= 0 || c.IRC.Port > 65535) {
		errs = append(errs, fmt.Errorf("irc.port out of range: %d", c.IRC.Port))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ReconnectInterval parses Server.ReconnectInterval.
func (c *Config) ReconnectInterval() (time.Duration, error) {
	return time.ParseDuration(c.Server.ReconnectInterval)
}

// ICEStartupTimeout parses ICE.StartupTimeout.
func (c *Config) ICEStartupTimeout() (time.Duration, error) {
	return time.ParseDuration(c.ICE.StartupTimeout)
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.State,
		c.Paths.Logs,
		c.Paths.Replays,
		c.Paths.Maps,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
