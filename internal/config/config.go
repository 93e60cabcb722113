// Package config loads the agent configuration. Values come from the
// config file (YAML), HAULSYNC_* environment variables, and defaults,
// in that order of increasing precedence for env over file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Edge configures the local network-edge gateway.
type Edge struct {
	Listen       string `mapstructure:"listen"`
	CacheDir     string `mapstructure:"cache_dir"`
	ManifestPath string `mapstructure:"manifest_path"`
}

// Status configures the local status feed.
type Status struct {
	Listen string `mapstructure:"listen"`
}

// Log configures daemon log rotation.
type Log struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Config is the full agent configuration.
type Config struct {
	ServerURL       string        `mapstructure:"server_url"`
	HealthURL       string        `mapstructure:"health_url"`
	DBPath          string        `mapstructure:"db_path"`
	CredentialsPath string        `mapstructure:"credentials_path"`
	ChunkSize       int           `mapstructure:"chunk_size"`
	DrainInterval   time.Duration `mapstructure:"drain_interval"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	Edge            Edge          `mapstructure:"edge"`
	Status          Status        `mapstructure:"status"`
	Log             Log           `mapstructure:"log"`
}

// DefaultDir returns the per-user data directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".haulsync"
	}
	return filepath.Join(home, ".haulsync")
}

// Load reads configuration from path (or the default location when
// empty) and the environment. A missing config file is fine; defaults
// and HAULSYNC_* variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	dir := DefaultDir()
	v.SetDefault("server_url", "")
	v.SetDefault("health_url", "")
	v.SetDefault("db_path", filepath.Join(dir, "haulsync.db"))
	v.SetDefault("credentials_path", filepath.Join(dir, "credentials"))
	v.SetDefault("chunk_size", 50)
	v.SetDefault("drain_interval", 30*time.Second)
	v.SetDefault("probe_interval", 10*time.Second)
	v.SetDefault("edge.listen", "127.0.0.1:9443")
	v.SetDefault("edge.cache_dir", filepath.Join(dir, "edge-cache"))
	v.SetDefault("edge.manifest_path", filepath.Join(dir, "deploy.yaml"))
	v.SetDefault("status.listen", "127.0.0.1:9444")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	v.SetEnvPrefix("HAULSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// The probe endpoint defaults to the backend's health route.
	if cfg.HealthURL == "" && cfg.ServerURL != "" {
		cfg.HealthURL = strings.TrimRight(cfg.ServerURL, "/") + "/api/health"
	}
	return &cfg, nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required (set HAULSYNC_SERVER_URL or the config file)")
	}
	if _, err := url.ParseRequestURI(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if _, err := url.ParseRequestURI(c.HealthURL); err != nil {
		return fmt.Errorf("invalid health_url: %w", err)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	if c.DrainInterval <= 0 {
		return fmt.Errorf("drain_interval must be positive")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe_interval must be positive")
	}
	return nil
}
