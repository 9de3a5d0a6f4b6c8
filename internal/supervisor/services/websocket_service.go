// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package services

import "context"

// ContextHub is satisfied by *websocket.Hub, which already blocks until its
// context is cancelled.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// WebSocketHubService supervises the award notification hub.
type WebSocketHubService struct {
	hub ContextHub
}

// NewWebSocketHubService wraps hub.
func NewWebSocketHubService(hub ContextHub) *WebSocketHubService {
	return &WebSocketHubService{hub: hub}
}

// Serve implements suture.Service.
func (w *WebSocketHubService) Serve(ctx context.Context) error {
	return w.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer.
func (w *WebSocketHubService) String() string {
	return "websocket-hub"
}
