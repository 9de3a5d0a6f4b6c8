// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/progress"
)

// ProgressRequest is the body of POST /api/v1/progress.
type ProgressRequest struct {
	ContentID         int64              `json:"content_id" validate:"gte=0"`
	ProgressPercent   *int               `json:"progress_percent" validate:"required"`
	ResumeTimeSeconds *int               `json:"resume_time_seconds,omitempty" validate:"omitempty,min=0,max=65535"`
	Collection        *models.Collection `json:"collection,omitempty"`
	ContentBrand      string             `json:"content_brand,omitempty" validate:"max=64"`
}

func (p *ProgressRequest) input() progress.Input {
	return progress.Input{
		ContentID:         p.ContentID,
		ProgressPercent:   *p.ProgressPercent,
		ResumeTimeSeconds: p.ResumeTimeSeconds,
		Collection:        p.Collection,
		ContentBrand:      p.ContentBrand,
	}
}

// LookupRequest is the body of POST /api/v1/progress/lookup.
type LookupRequest struct {
	Keys []progress.Key `json:"keys" validate:"required,min=1,max=500"`
}

// RecentRequest holds GET /api/v1/progress/recent parameters.
type RecentRequest struct {
	Limit int `validate:"min=1,max=500"`
}

// collectionFromQuery reads ?collection_type=&collection_id=. Both absent
// means standalone.
func collectionFromQuery(r *http.Request) (*models.Collection, error) {
	q := r.URL.Query()
	rawType, rawID := q.Get("collection_type"), q.Get("collection_id")
	if rawType == "" && rawID == "" {
		return nil, nil
	}
	t, err := models.ParseCollectionType(rawType)
	if err != nil {
		return nil, err
	}
	c := &models.Collection{Type: t}
	if rawID != "" {
		id, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: collection_id %q is not a number", models.ErrInvalidCollection, rawID)
		}
		c.ID = id
	}
	return c, nil
}

// contentIDParam parses the {contentID} path segment.
func contentIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "contentID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("content id %q must be a non-negative integer", raw)
	}
	return id, nil
}

// getIntParam reads an integer query parameter, falling back on absence or
// parse failure.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}
