// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"net/http"
	"time"
)

// RunSync handles POST /api/v1/sync. The cycle runs in the request; an
// unreachable endpoint still answers 200 with Unreachable set, since local
// data is unaffected.
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.sync == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Sync is disabled", nil)
		return
	}
	report := h.sync.RunCycle(r.Context())
	if h.hub != nil {
		h.hub.BroadcastSyncCompleted(report.Duration, !report.Unreachable)
	}
	respondSuccess(w, http.StatusOK, report, start)
}

// SyncStatus handles GET /api/v1/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.sync == nil {
		respondSuccess(w, http.StatusOK, map[string]interface{}{"enabled": false}, start)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"enabled":     true,
		"running":     h.sync.IsRunning(),
		"last_report": h.sync.LastReport(),
	}, start)
}
