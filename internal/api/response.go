// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/waypoint/internal/awards"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/store"
	"github.com/tomtom215/waypoint/internal/syncrepo"
	"github.com/tomtom215/waypoint/internal/validation"
)

// Error codes used in the error envelope.
const (
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeInvalidCollection   = "INVALID_COLLECTION"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	ErrCodeExternalServiceFail = "EXTERNAL_SERVICE_FAILED"
)

// sanitizeLogValue escapes control characters so request-derived strings
// cannot forge log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func respondJSON(w http.ResponseWriter, status int, response *models.APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func respondSuccess(w http.ResponseWriter, status int, data interface{}, started time.Time) {
	respondJSON(w, status, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp:   time.Now().UTC(),
			QueryTimeMS: time.Since(started).Milliseconds(),
		},
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		logging.Ctx(r.Context()).Warn().
			Str("code", code).
			Int("status", status).
			Str("path", sanitizeLogValue(r.URL.Path)).
			Str("error", sanitizeLogValue(err.Error())).
			Msg("API error")
	}
	respondJSON(w, status, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: code, Message: message},
	})
}

func respondValidation(w http.ResponseWriter, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	respondJSON(w, http.StatusBadRequest, &models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: apiErr.Code, Message: apiErr.Message, Details: apiErr.Details},
	})
}

// respondFailure maps a service error onto the envelope.
func respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.As(err, &verr):
		respondValidation(w, verr)
	case errors.Is(err, models.ErrInvalidCollection):
		respondError(w, r, http.StatusBadRequest, ErrCodeInvalidCollection, err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Not found", nil)
	case errors.Is(err, awards.ErrNoDefinitions):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Award definitions are not available yet", err)
	case errors.Is(err, syncrepo.ErrTransport):
		respondError(w, r, http.StatusBadGateway, ErrCodeExternalServiceFail, "Remote service unreachable", err)
	case errors.Is(err, store.ErrClosed):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Store is closed", err)
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal error", err)
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

const maxBodyBytes = 1 << 20
