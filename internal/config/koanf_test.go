// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Awards.DefinitionsTTL != 24*time.Hour {
		t.Errorf("Awards.DefinitionsTTL = %v, want 24h", cfg.Awards.DefinitionsTTL)
	}
	if cfg.Awards.Debounce != 50*time.Millisecond {
		t.Errorf("Awards.Debounce = %v, want 50ms", cfg.Awards.Debounce)
	}
	if !cfg.Sync.PushOnWrite {
		t.Error("Sync.PushOnWrite should default to true")
	}
	if cfg.Server.Port != 7420 {
		t.Errorf("Server.Port = %d, want 7420", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WAYPOINT_STORE_PATH", "/tmp/waypoint-test")
	t.Setenv("WAYPOINT_HTTP_PORT", "9000")
	t.Setenv("WAYPOINT_AWARDS_DEBOUNCE", "200ms")
	t.Setenv("WAYPOINT_CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Store.Path != "/tmp/waypoint-test" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Awards.Debounce != 200*time.Millisecond {
		t.Errorf("Awards.Debounce = %v, want 200ms", cfg.Awards.Debounce)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadWithKoanf_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
user:
  id: 42
  brand: drumeo
remote:
  sync_url: https://sync.example.com
sync:
  interval: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.User.ID != 42 || cfg.User.Brand != "drumeo" {
		t.Errorf("User = %+v", cfg.User)
	}
	if cfg.Remote.SyncURL != "https://sync.example.com" {
		t.Errorf("Remote.SyncURL = %q", cfg.Remote.SyncURL)
	}
	if cfg.Sync.Interval != 2*time.Minute {
		t.Errorf("Sync.Interval = %v, want 2m", cfg.Sync.Interval)
	}
	// untouched values keep their defaults
	if cfg.Server.Port != 7420 {
		t.Errorf("Server.Port = %d, want default 7420", cfg.Server.Port)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"WAYPOINT_STORE_PATH": "store.path",
		"LOG_FORMAT":          "logging.format",
		"HOME":                "",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"relative sync url", func(c *Config) { c.Remote.SyncURL = "sync.example.com" }, "remote.sync_url"},
		{"ftp cms url", func(c *Config) { c.Remote.CMSURL = "ftp://cms.example.com" }, "remote.cms_url"},
		{"tiny interval", func(c *Config) { c.Sync.Interval = time.Millisecond }, "sync.interval"},
		{"backoff below interval", func(c *Config) { c.Sync.MaxBackoff = time.Second }, "sync.max_backoff"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero ttl", func(c *Config) { c.Awards.DefinitionsTTL = 0 }, "awards.definitions_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cerr.Field, tt.field)
			}
		})
	}
}

func TestValidate_InMemoryNeedsNoPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Path = ""
	cfg.Store.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
