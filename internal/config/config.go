// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package config loads Waypoint configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence
// (environment wins).
package config

import (
	"time"
)

// Config is the root configuration for the Waypoint daemon.
type Config struct {
	User       UserConfig       `koanf:"user"`
	Store      StoreConfig      `koanf:"store"`
	Remote     RemoteConfig     `koanf:"remote"`
	Sync       SyncConfig       `koanf:"sync"`
	Awards     AwardsConfig     `koanf:"awards"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// UserConfig identifies the learner whose progress this device records.
type UserConfig struct {
	ID    int64  `koanf:"id"`
	Brand string `koanf:"brand"`
}

// StoreConfig configures the embedded BadgerDB document store.
type StoreConfig struct {
	Path         string        `koanf:"path"`
	InMemory     bool          `koanf:"in_memory"`
	SyncWrites   bool          `koanf:"sync_writes"`
	GCInterval   time.Duration `koanf:"gc_interval"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// RemoteConfig configures the sync endpoint and CMS clients.
type RemoteConfig struct {
	SyncURL  string `koanf:"sync_url"`
	CMSURL   string `koanf:"cms_url"`
	APIToken string `koanf:"api_token"`

	Timeout time.Duration `koanf:"timeout"`

	// Client-side pacing for outbound requests.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`

	// Circuit breaker: consecutive failures before opening, and how long
	// the breaker stays open before probing.
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`

	DurationCacheTTL time.Duration `koanf:"duration_cache_ttl"`
}

// SyncConfig configures the background push/pull loop.
type SyncConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval"`
	MaxBackoff  time.Duration `koanf:"max_backoff"`
	PushOnWrite bool          `koanf:"push_on_write"`
	BatchSize   int           `koanf:"batch_size"`
}

// AwardsConfig configures award definitions and evaluation.
type AwardsConfig struct {
	DefinitionsTTL time.Duration `koanf:"definitions_ttl"`
	Debounce       time.Duration `koanf:"debounce"`
	Enabled        bool          `koanf:"enabled"`
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig mirrors logging.Config for koanf.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Load is the entry point used by cmd/server.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
