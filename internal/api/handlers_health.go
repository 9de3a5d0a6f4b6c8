// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"net/http"
	"time"
)

// HealthLive handles GET /api/v1/health/live. It only proves the process
// serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	}, time.Now())
}

// HealthReady handles GET /api/v1/health/ready. The daemon is ready once the
// progress store is wired; missing definitions or an unreachable endpoint
// are reported but do not fail readiness, since both are normal offline.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.progress == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Progress store unavailable", nil)
		return
	}

	status := map[string]interface{}{"status": "ready"}
	if h.definitions != nil {
		status["award_definitions"] = h.definitions.Len()
		if last := h.definitions.LastRefresh(); !last.IsZero() {
			status["definitions_refreshed_at"] = last.UTC()
		}
	}
	if h.sync != nil {
		if last := h.sync.LastReport(); last != nil {
			status["last_sync_at"] = last.StartedAt.UTC()
			status["remote_reachable"] = !last.Unreachable
		}
	}
	if h.hub != nil {
		status["websocket_clients"] = h.hub.GetClientCount()
	}
	respondSuccess(w, http.StatusOK, status, start)
}
