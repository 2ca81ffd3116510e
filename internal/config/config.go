package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/loykin/rollout/internal/logger"
	"github.com/spf13/viper"
)

// Config is the top-level TOML structure consumed by the updater.
type Config struct {
	PollInterval   time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	AppDir         string        `toml:"app_dir" mapstructure:"app_dir"`
	VersionsDir    string        `toml:"versions_dir" mapstructure:"versions_dir"`
	MaxVersions    int           `toml:"max_versions" mapstructure:"max_versions"`
	DefaultVersion string        `toml:"default_version" mapstructure:"default_version"`
	GuardFile      string        `toml:"guard_file" mapstructure:"guard_file"`
	LogLevel       string        `toml:"log_level" mapstructure:"log_level"`
	LogColor       bool          `toml:"log_color" mapstructure:"log_color"`

	Process ProcessConfig `toml:"process" mapstructure:"process"`
	Health  HealthConfig  `toml:"health" mapstructure:"health"`
	Source  SourceConfig  `toml:"source" mapstructure:"source"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
}

// ProcessConfig describes the managed application process.
type ProcessConfig struct {
	Name        string        `toml:"name" mapstructure:"name"`
	Command     string        `toml:"command" mapstructure:"command"`
	WorkDir     string        `toml:"workdir" mapstructure:"workdir"`
	Env         []string      `toml:"env" mapstructure:"env"`
	GracePeriod time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	Log         logger.Config `toml:"log" mapstructure:"log"`
}

// HealthConfig controls post-start verification of a new version.
type HealthConfig struct {
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
	SettleDelay time.Duration `toml:"settle_delay" mapstructure:"settle_delay"`
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	DBPath      string        `toml:"db_path" mapstructure:"db_path"`
	Staleness   time.Duration `toml:"staleness" mapstructure:"staleness"`
	LogMarkers  []string      `toml:"log_markers" mapstructure:"log_markers"`
}

// SourceConfig identifies the GitHub repository releases are pulled from.
type SourceConfig struct {
	Owner   string `toml:"owner" mapstructure:"owner"`
	Repo    string `toml:"repo" mapstructure:"repo"`
	Branch  string `toml:"branch" mapstructure:"branch"`
	Token   string `toml:"token" mapstructure:"token"`
	APIBase string `toml:"api_base" mapstructure:"api_base"`
	Path    string `toml:"path" mapstructure:"path"` // repo subdirectory holding the app
}

// HistoryConfig selects an optional audit sink by DSN
// (sqlite path, postgres:// or clickhouse:// URL).
type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ServerConfig controls the read-only status HTTP API.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// Defaults mirror the original service's behavior where it had one.
const (
	DefaultPollInterval = 5 * time.Minute
	DefaultMaxVersions  = 5
	DefaultGracePeriod  = 25 * time.Second
	DefaultHealthWindow = 30 * time.Second
	DefaultSettleDelay  = 5 * time.Second
	DefaultPollCadence  = 2 * time.Second
	DefaultStaleness    = 60 * time.Second
)

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills zero values with documented defaults.
func (c *Config) ApplyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.VersionsDir == "" {
		c.VersionsDir = "versions"
	}
	if c.AppDir == "" {
		c.AppDir = "application"
	}
	if c.MaxVersions <= 0 {
		c.MaxVersions = DefaultMaxVersions
	}
	if c.DefaultVersion == "" {
		c.DefaultVersion = "0.0.0"
	}
	if c.Process.Name == "" {
		c.Process.Name = "app"
	}
	if c.Process.GracePeriod <= 0 {
		c.Process.GracePeriod = DefaultGracePeriod
	}
	if c.Health.Timeout <= 0 {
		c.Health.Timeout = DefaultHealthWindow
	}
	if c.Health.SettleDelay <= 0 {
		c.Health.SettleDelay = DefaultSettleDelay
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = DefaultPollCadence
	}
	if c.Health.Staleness <= 0 {
		c.Health.Staleness = DefaultStaleness
	}
	if c.Source.Branch == "" {
		c.Source.Branch = "main"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the enumerated set of recognized options.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Process.Command) == "" {
		return fmt.Errorf("process.command is required")
	}
	if strings.ContainsAny(c.Process.Name, " \t\n/\\") {
		return fmt.Errorf("process.name %q contains invalid characters", c.Process.Name)
	}
	if c.MaxVersions < 2 {
		return fmt.Errorf("max_versions must be at least 2 to keep a rollback target, got %d", c.MaxVersions)
	}
	if c.Source.Owner == "" || c.Source.Repo == "" {
		return fmt.Errorf("source.owner and source.repo are required")
	}
	if c.Health.DBPath == "" && len(c.Health.LogMarkers) == 0 {
		return fmt.Errorf("health requires db_path or log_markers")
	}
	if len(c.Health.LogMarkers) > 0 && c.Health.DBPath == "" {
		stdout, _ := c.Process.Log.Paths(c.Process.Name)
		if stdout == "" {
			return fmt.Errorf("health.log_markers requires process.log capture to be configured")
		}
	}
	for i, kv := range c.Process.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("process.env[%d] %q must be KEY=VALUE", i, kv)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}
