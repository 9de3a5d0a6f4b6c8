// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package models

import (
	"time"
)

// APIResponse is the envelope returned by every local HTTP endpoint.
//
//	{
//	  "status": "success",
//	  "data": {"content_id": 42, "progress_percent": 60, "state": "started"},
//	  "metadata": {"timestamp": "2026-10-17T12:00:00Z"}
//	}
//
// Error responses carry Status "error" and a populated Error.
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata describes how the response data was produced.
//
// SyncStatus and PullStatus mirror the repository read result so clients can
// tell a local-only read ("stale") from one that reached the server ("fresh").
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	SyncStatus  string    `json:"sync_status,omitempty"`
	PullStatus  string    `json:"pull_status,omitempty"`
	FetchToken  string    `json:"fetch_token,omitempty"`
}

// APIError is the error body of an APIResponse.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
