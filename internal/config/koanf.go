// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, first match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/waypoint/config.yaml",
	"/etc/waypoint/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		User: UserConfig{
			ID:    0,
			Brand: "",
		},
		Store: StoreConfig{
			Path:         "/data/waypoint",
			InMemory:     false,
			SyncWrites:   true,
			GCInterval:   10 * time.Minute,
			CloseTimeout: 10 * time.Second,
		},
		Remote: RemoteConfig{
			SyncURL:           "",
			CMSURL:            "",
			Timeout:           15 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
			DurationCacheTTL:  time.Hour,
		},
		Sync: SyncConfig{
			Enabled:     true,
			Interval:    time.Minute,
			MaxBackoff:  5 * time.Minute,
			PushOnWrite: true,
			BatchSize:   100,
		},
		Awards: AwardsConfig{
			Enabled:        true,
			DefinitionsTTL: 24 * time.Hour,
			Debounce:       50 * time.Millisecond,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7420,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration in three layers:
//  1. Defaults from defaultConfig
//  2. Optional YAML config file
//  3. Environment variables listed in envMappings
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"waypoint_user_id":    "user.id",
	"waypoint_user_brand": "user.brand",

	"waypoint_store_path":          "store.path",
	"waypoint_store_in_memory":     "store.in_memory",
	"waypoint_store_sync_writes":   "store.sync_writes",
	"waypoint_store_gc_interval":   "store.gc_interval",
	"waypoint_store_close_timeout": "store.close_timeout",

	"waypoint_sync_url":            "remote.sync_url",
	"waypoint_cms_url":             "remote.cms_url",
	"waypoint_api_token":           "remote.api_token",
	"waypoint_remote_timeout":      "remote.timeout",
	"waypoint_remote_rps":          "remote.requests_per_second",
	"waypoint_remote_burst":        "remote.burst",
	"waypoint_breaker_failures":    "remote.breaker_failures",
	"waypoint_breaker_timeout":     "remote.breaker_timeout",
	"waypoint_duration_cache_ttl":  "remote.duration_cache_ttl",
	"waypoint_sync_enabled":        "sync.enabled",
	"waypoint_sync_interval":       "sync.interval",
	"waypoint_sync_max_backoff":    "sync.max_backoff",
	"waypoint_sync_push_on_write":  "sync.push_on_write",
	"waypoint_sync_batch_size":     "sync.batch_size",
	"waypoint_awards_enabled":      "awards.enabled",
	"waypoint_awards_ttl":          "awards.definitions_ttl",
	"waypoint_awards_debounce":     "awards.debounce",
	"waypoint_http_host":           "server.host",
	"waypoint_http_port":           "server.port",
	"waypoint_http_timeout":        "server.timeout",
	"waypoint_cors_origins":        "server.cors_origins",
	"waypoint_rate_limit_requests": "server.rate_limit_reqs",
	"waypoint_rate_limit_window":   "server.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Unmapped variables return "" and are skipped so unrelated environment
// does not leak into the config.
//
//   - WAYPOINT_STORE_PATH -> store.path
//   - WAYPOINT_HTTP_PORT -> server.port
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
