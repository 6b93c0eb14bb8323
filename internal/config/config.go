// Package config loads the launcher configuration from an optional file
// (TOML, YAML or JSON, chosen by extension) with APPLAUNCHER_* environment
// overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/applauncher/internal/logger"
)

const EnvPrefix = "APPLAUNCHER"

type Config struct {
	// ProfilesPath is the profile document. Empty means the per-user default.
	ProfilesPath string        `mapstructure:"profiles_path"`
	Log          logger.Config `mapstructure:"log"`
	Server       ServerConfig  `mapstructure:"server"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	History      HistoryConfig `mapstructure:"history"`
	Launch       LaunchConfig  `mapstructure:"launch"`
	Env          EnvConfig     `mapstructure:"env"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// SampleInterval is the per-entry CPU/memory sampling period; 0 disables sampling.
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type HistoryConfig struct {
	DSN []string `mapstructure:"dsn"`
}

type LaunchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// EnvConfig is the environment handed to every launched entry.
type EnvConfig struct {
	InheritOS bool     `mapstructure:"inherit_os"`
	Files     []string `mapstructure:"files"`
	Vars      []string `mapstructure:"vars"` // KEY=VALUE
}

func defaults(v *viper.Viper) {
	v.SetDefault("profiles_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.child.dir", "")
	v.SetDefault("server.listen", "127.0.0.1:8765")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.sample_interval", 5*time.Second)
	v.SetDefault("history.dsn", []string{})
	v.SetDefault("launch.concurrency", 0)
	v.SetDefault("env.inherit_os", true)
	v.SetDefault("env.files", []string{})
	v.SetDefault("env.vars", []string{})
}

// Load reads path (optional) and applies defaults and environment
// overrides such as APPLAUNCHER_SERVER_LISTEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects values the launcher cannot run with.
func (c *Config) Validate() error {
	if c.Launch.Concurrency < 0 {
		return fmt.Errorf("launch.concurrency must be >= 0, got %d", c.Launch.Concurrency)
	}
	if c.Metrics.SampleInterval < 0 {
		return fmt.Errorf("metrics.sample_interval must be >= 0, got %s", c.Metrics.SampleInterval)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		c.Server.BasePath = "/" + bp
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	return nil
}
