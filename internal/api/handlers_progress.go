// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/validation"
)

// ProgressView is the API shape of a progress record.
type ProgressView struct {
	*models.ContentProgress
	State models.ProgressState `json:"state"`
}

func progressView(p *models.ContentProgress) *ProgressView {
	if p == nil {
		return nil
	}
	return &ProgressView{ContentProgress: p, State: p.State()}
}

func progressViews(recs []*models.ContentProgress) []*ProgressView {
	out := make([]*ProgressView, len(recs))
	for i, p := range recs {
		out[i] = progressView(p)
	}
	return out
}

func (h *Handler) progressAvailable(w http.ResponseWriter, r *http.Request) bool {
	if h.progress == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Progress store unavailable", nil)
		return false
	}
	return true
}

// RecordProgress handles POST /api/v1/progress.
func (h *Handler) RecordProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.progressAvailable(w, r) {
		return
	}

	var req ProgressRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}

	rec, err := h.progress.RecordProgress(r.Context(), req.input())
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, progressView(rec), start)
}

// GetProgress handles GET /api/v1/progress/{contentID}. A content item
// without a record returns data null rather than 404.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.progressAvailable(w, r) {
		return
	}
	contentID, err := contentIDParam(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	collection, err := collectionFromQuery(r)
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	rec, err := h.progress.GetProgress(r.Context(), contentID, collection)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, progressView(rec), start)
}

// EraseProgress handles DELETE /api/v1/progress/{contentID}.
func (h *Handler) EraseProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.progressAvailable(w, r) {
		return
	}
	contentID, err := contentIDParam(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	collection, err := collectionFromQuery(r)
	if err != nil {
		respondFailure(w, r, err)
		return
	}

	existed, err := h.progress.EraseProgress(r.Context(), contentID, collection)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if !existed {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "No progress recorded for this content", nil)
		return
	}
	respondSuccess(w, http.StatusOK, map[string]interface{}{"content_id": contentID, "erased": true}, start)
}

// LookupProgress handles POST /api/v1/progress/lookup.
func (h *Handler) LookupProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.progressAvailable(w, r) {
		return
	}

	var req LookupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}

	recs, err := h.progress.GetSomeProgressByContentIDsAndCollections(r.Context(), req.Keys)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, progressViews(recs), start)
}

// StandaloneStarted handles GET /api/v1/progress/standalone/started.
func (h *Handler) StandaloneStarted(w http.ResponseWriter, r *http.Request) {
	h.standaloneIDs(w, r, false)
}

// StandaloneCompleted handles GET /api/v1/progress/standalone/completed.
func (h *Handler) StandaloneCompleted(w http.ResponseWriter, r *http.Request) {
	h.standaloneIDs(w, r, true)
}

func (h *Handler) standaloneIDs(w http.ResponseWriter, r *http.Request, completed bool) {
	start := time.Now()
	if !h.progressAvailable(w, r) {
		return
	}

	var ids []int64
	var err error
	if completed {
		ids, err = h.progress.StandaloneCompletedIDs(r.Context())
	} else {
		ids, err = h.progress.StandaloneStartedIDs(r.Context())
	}
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	respondSuccess(w, http.StatusOK, ids, start)
}

// RecentProgress handles GET /api/v1/progress/recent.
func (h *Handler) RecentProgress(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !h.progressAvailable(w, r) {
		return
	}
	req := RecentRequest{Limit: getIntParam(r, "limit", 20)}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondValidation(w, verr)
		return
	}

	recs, err := h.progress.RecentlyInteracted(r.Context(), req.Limit)
	if err != nil {
		respondFailure(w, r, err)
		return
	}
	respondSuccess(w, http.StatusOK, progressViews(recs), start)
}
