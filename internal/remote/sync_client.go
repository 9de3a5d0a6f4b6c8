// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
)

// PushResultType is the per-record outcome the sync endpoint reports.
type PushResultType string

const (
	PushSuccess PushResultType = "success"
	PushFailure PushResultType = "failure"
)

// PushResult is the outcome for one pushed record. On success Entry holds
// the server's canonical representation.
type PushResult struct {
	Type  PushResultType  `json:"type"`
	ID    string          `json:"id"`
	Entry json.RawMessage `json:"entry,omitempty"`
	Error string          `json:"error,omitempty"`
}

// PushResponse is the answer to a push. Acknowledged is false when the
// server received the request but refused to process the batch.
type PushResponse struct {
	Acknowledged bool         `json:"acknowledged"`
	Results      []PushResult `json:"results"`
}

// PullResponse carries the records changed since the previous token.
type PullResponse struct {
	Success bool              `json:"success"`
	Token   string            `json:"token"`
	Records []json.RawMessage `json:"records"`
}

type pushRequest struct {
	Records []json.RawMessage `json:"records"`
}

// SyncEndpoint is the remote store of record for synchronized entities.
type SyncEndpoint interface {
	PushRecords(ctx context.Context, entity string, records []json.RawMessage) (*PushResponse, error)
	PullRecords(ctx context.Context, entity, since string) (*PullResponse, error)
}

// SyncClient talks to the sync endpoint over HTTP:
//
//	POST {base}/v1/sync/{entity}/push   {"records": [...]}
//	GET  {base}/v1/sync/{entity}/pull?since={token}
type SyncClient struct {
	http *httpClient
}

var _ SyncEndpoint = (*SyncClient)(nil)

// NewSyncClient creates a sync endpoint client.
func NewSyncClient(opts Options) *SyncClient {
	return &SyncClient{http: newHTTPClient("sync-endpoint", opts)}
}

// PushRecords sends records of one entity type. An error means no
// acknowledgment was received.
func (c *SyncClient) PushRecords(ctx context.Context, entity string, records []json.RawMessage) (*PushResponse, error) {
	var resp PushResponse
	err := c.http.doJSON(ctx, "push_"+entity, http.MethodPost,
		"/v1/sync/"+url.PathEscape(entity)+"/push", nil,
		pushRequest{Records: records}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullRecords fetches records changed since the given token ("" for all).
func (c *SyncClient) PullRecords(ctx context.Context, entity, since string) (*PullResponse, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
	}
	var resp PullResponse
	err := c.http.doJSON(ctx, "pull_"+entity, http.MethodGet,
		"/v1/sync/"+url.PathEscape(entity)+"/pull", query, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// BreakerState reports the endpoint breaker state for health checks.
func (c *SyncClient) BreakerState() string {
	return c.http.breaker.State()
}
