// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/waypoint/internal/logging"
	ws "github.com/tomtom215/waypoint/internal/websocket"
)

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkWebSocketOrigin,
	}
}

// checkWebSocketOrigin accepts local non-browser clients (no Origin),
// same-host pages, and configured origins.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// WebSocket handles GET /ws.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "WebSocket service unavailable", nil)
		return
	}
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	ws.NewClient(h.hub, conn).Start()
}
