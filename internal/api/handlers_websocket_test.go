// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	ws "github.com/tomtom215/waypoint/internal/websocket"
)

func TestWebSocket_ReceivesBroadcasts(t *testing.T) {
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()

	srv := httptest.NewServer(newTestAPI(t, Dependencies{Hub: hub}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastSyncCompleted(250*time.Millisecond, true)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != ws.MessageTypeSyncCompleted || msg.Data["reachable"] != true {
		t.Errorf("message = %+v", msg)
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	h := NewHandler(Dependencies{Hub: ws.NewHub(), AllowedOrigins: []string{"http://app.local"}})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://app.local", true},
		{"http://127.0.0.1:8420", true},
		{"http://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8420/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := h.checkWebSocketOrigin(req); got != tt.want {
			t.Errorf("origin %q allowed = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestWebSocket_DisabledWithoutHub(t *testing.T) {
	code, env := do(t, newTestAPI(t, Dependencies{}), http.MethodGet, "/ws", nil)
	if code != http.StatusServiceUnavailable || env.Error == nil {
		t.Errorf("status = %d, want 503 envelope", code)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("sanitizeLogValue = %q", got)
	}
	if got := sanitizeLogValue("plain"); got != "plain" {
		t.Errorf("sanitizeLogValue = %q", got)
	}
}
