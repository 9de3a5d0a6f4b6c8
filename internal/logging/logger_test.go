// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
}

func TestInit(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	Info().Int64("content_id", 7).Msg("progress recorded")

	out := buf.String()
	if !strings.Contains(out, "progress recorded") {
		t.Errorf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, `"content_id":7`) {
		t.Errorf("expected content_id field, got: %s", out)
	}
	if !strings.Contains(out, `"level":"info"`) {
		t.Errorf("expected level field, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	if !ValidLevel("warn") {
		t.Error("warn should be valid")
	}
	if ValidLevel("loud") {
		t.Error("loud should be invalid")
	}
}

func TestCtxAddsIDs(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Output: &buf})
	t.Cleanup(func() { Init(DefaultConfig()) })

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	ctx = ContextWithRequestID(ctx, "req-1")
	Ctx(ctx).Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"correlation_id":"abc12345"`) {
		t.Errorf("missing correlation_id: %s", out)
	}
	if !strings.Contains(out, `"request_id":"req-1"`) {
		t.Errorf("missing request_id: %s", out)
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	if len(id) != 8 {
		t.Errorf("expected 8 chars, got %d (%s)", len(id), id)
	}
	if ctx := ContextWithNewCorrelationID(context.Background()); CorrelationIDFromContext(ctx) == "" {
		t.Error("expected generated correlation id in context")
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	logger := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))
	logger.WithGroup("svc").Warn("service restarted", "name", "sync-loop", "attempt", 2)

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level: %s", out)
	}
	if !strings.Contains(out, `"svc.name":"sync-loop"`) {
		t.Errorf("expected grouped key: %s", out)
	}
	if !strings.Contains(out, `"svc.attempt":2`) {
		t.Errorf("expected int attr: %s", out)
	}
}

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	adapter := NewWatermillAdapterWithLogger(NewTestLogger(&buf)).
		With(watermill.LogFields{"topic": "progress.saved"})
	adapter.Error("publish failed", errors.New("closed"), watermill.LogFields{"uuid": "x"})
	adapter.Info("subscriber started", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"error":"closed"`) || !strings.Contains(lines[0], `"topic":"progress.saved"`) {
		t.Errorf("unexpected error line: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"level":"debug"`) {
		t.Errorf("info should be demoted to debug: %s", lines[1])
	}
}
