// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/waypoint/internal/models"
)

// AwardView joins a definition with the user's progress toward it.
type AwardView struct {
	Definition models.AwardDefinition   `json:"definition"`
	Progress   *models.UserAwardProgress `json:"progress"`
	Completed  bool                      `json:"completed"`
}

func awardView(def models.AwardDefinition, p *models.UserAwardProgress) AwardView {
	return AwardView{Definition: def, Progress: p, Completed: p != nil && p.IsCompleted()}
}

func (h *Handler) awardsAvailable(w http.ResponseWriter, r *http.Request) bool {
	if h.awards == nil || h.definitions == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Awards are disabled", nil)
		return false
	}
	return true
}

// ListAwards handles GET /api/v1/awards. Definitions are ordered by id.
func (h *Handler) ListAwards(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.awardsAvailable(w, r) {
		return
	}

	defs, err := h.definitions.GetAll(r.Context())
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	records, err := h.awards.ListAwardProgress(r.Context())
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	byAward := make(map[string]*models.UserAwardProgress, len(records))
	for _, p := range records {
		byAward[p.AwardID] = p
	}

	views := make([]AwardView, len(defs))
	for i, def := range defs {
		views[i] = awardView(def, byAward[def.ID])
	}
	respondSuccess(w, http.StatusOK, views, start)
}

// GetAward handles GET /api/v1/awards/{awardID}.
func (h *Handler) GetAward(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.awardsAvailable(w, r) {
		return
	}
	awardID := chi.URLParam(r, "awardID")

	def, err := h.definitions.GetByID(r.Context(), awardID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if def == nil {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Unknown award", nil)
		return
	}
	p, err := h.awards.GetAwardProgress(r.Context(), awardID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, awardView(*def, p), start)
}

// ResetAward handles DELETE /api/v1/awards/{awardID}.
func (h *Handler) ResetAward(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.awardsAvailable(w, r) {
		return
	}
	awardID := chi.URLParam(r, "awardID")

	existed, err := h.awards.ResetAward(r.Context(), awardID)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if !existed {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "No progress recorded for this award", nil)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"award_id": awardID, "reset": true}, start)
}

// RefreshDefinitions handles POST /api/v1/awards/refresh.
func (h *Handler) RefreshDefinitions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.awardsAvailable(w, r) {
		return
	}
	if err := h.definitions.Refresh(r.Context()); err != nil {
		respondError(w, r, http.StatusBadGateway, ErrCodeExternalServiceFail, "Award definitions refresh failed", err)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"definitions":  h.definitions.Len(),
		"last_refresh": h.definitions.LastRefresh().UTC(),
	}, start)
}
