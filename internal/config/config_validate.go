// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package config

import (
	"net/url"
	"time"

	"github.com/tomtom215/waypoint/internal/logging"
)

// ConfigError describes one invalid configuration field.
//
//nolint:revive // ConfigError reads better than Error at call sites
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}

// Validate checks the configuration for values that would make the daemon misbehave.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateAwards(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	if !c.Store.InMemory && c.Store.Path == "" {
		return &ConfigError{Field: "store.path", Message: "required unless store.in_memory is set"}
	}
	if c.Store.CloseTimeout <= 0 {
		return &ConfigError{Field: "store.close_timeout", Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateRemote() error {
	for field, raw := range map[string]string{"remote.sync_url": c.Remote.SyncURL, "remote.cms_url": c.Remote.CMSURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigError{Field: field, Message: "must be an absolute URL"}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return &ConfigError{Field: field, Message: "scheme must be http or https"}
		}
	}
	if c.Remote.Timeout <= 0 {
		return &ConfigError{Field: "remote.timeout", Message: "must be positive"}
	}
	if c.Remote.RequestsPerSecond <= 0 {
		return &ConfigError{Field: "remote.requests_per_second", Message: "must be positive"}
	}
	if c.Remote.Burst < 1 {
		return &ConfigError{Field: "remote.burst", Message: "must be at least 1"}
	}
	if c.Remote.BreakerFailures == 0 {
		return &ConfigError{Field: "remote.breaker_failures", Message: "must be at least 1"}
	}
	return nil
}

func (c *Config) validateSync() error {
	if !c.Sync.Enabled {
		return nil
	}
	if c.Sync.Interval < time.Second {
		return &ConfigError{Field: "sync.interval", Message: "must be at least 1s"}
	}
	if c.Sync.MaxBackoff < c.Sync.Interval {
		return &ConfigError{Field: "sync.max_backoff", Message: "must not be shorter than sync.interval"}
	}
	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 1000 {
		return &ConfigError{Field: "sync.batch_size", Message: "must be between 1 and 1000"}
	}
	return nil
}

func (c *Config) validateAwards() error {
	if c.Awards.DefinitionsTTL <= 0 {
		return &ConfigError{Field: "awards.definitions_ttl", Message: "must be positive"}
	}
	if c.Awards.Debounce < 0 {
		return &ConfigError{Field: "awards.debounce", Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Server.RateLimitReqs < 0 {
		return &ConfigError{Field: "server.rate_limit_reqs", Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return &ConfigError{Field: "logging.level", Message: "unknown level " + c.Logging.Level}
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return &ConfigError{Field: "logging.format", Message: "must be json or console"}
	}
	return nil
}
