package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ChunkSize != 50 {
		t.Errorf("ChunkSize = %d, want 50", cfg.ChunkSize)
	}
	if cfg.DrainInterval != 30*time.Second {
		t.Errorf("DrainInterval = %v, want 30s", cfg.DrainInterval)
	}
	if cfg.ProbeInterval != 10*time.Second {
		t.Errorf("ProbeInterval = %v, want 10s", cfg.ProbeInterval)
	}
	if cfg.Edge.Listen == "" || cfg.Status.Listen == "" {
		t.Errorf("listen defaults missing: %+v", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server_url: https://ops.example.com
chunk_size: 25
drain_interval: 45s
edge:
  listen: 127.0.0.1:7000
log:
  file: /var/log/haulsync.log
  max_size_mb: 5
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ServerURL != "https://ops.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.ChunkSize != 25 {
		t.Errorf("ChunkSize = %d, want 25", cfg.ChunkSize)
	}
	if cfg.DrainInterval != 45*time.Second {
		t.Errorf("DrainInterval = %v, want 45s", cfg.DrainInterval)
	}
	if cfg.Edge.Listen != "127.0.0.1:7000" {
		t.Errorf("Edge.Listen = %q", cfg.Edge.Listen)
	}
	if cfg.Log.File != "/var/log/haulsync.log" || cfg.Log.MaxSizeMB != 5 {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoad_HealthURLDerivedFromServer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server_url: https://ops.example.com/\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HealthURL != "https://ops.example.com/api/health" {
		t.Errorf("HealthURL = %q", cfg.HealthURL)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HAULSYNC_SERVER_URL", "https://env.example.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ServerURL != "https://env.example.com" {
		t.Errorf("ServerURL = %q, want env value", cfg.ServerURL)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ServerURL:     "https://ops.example.com",
			HealthURL:     "https://ops.example.com/api/health",
			ChunkSize:     50,
			DrainInterval: 30 * time.Second,
			ProbeInterval: 10 * time.Second,
		}
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing server url", func(c *Config) { c.ServerURL = "" }},
		{"bad server url", func(c *Config) { c.ServerURL = "not a url" }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"zero drain interval", func(c *Config) { c.DrainInterval = 0 }},
		{"zero probe interval", func(c *Config) { c.ProbeInterval = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}
}
