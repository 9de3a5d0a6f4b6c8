// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package services

import (
	"context"
	"errors"
	"testing"
)

type fakeHub struct {
	ran bool
}

func (f *fakeHub) RunWithContext(ctx context.Context) error {
	f.ran = true
	<-ctx.Done()
	return ctx.Err()
}

func TestWebSocketHubService_DelegatesToHub(t *testing.T) {
	hub := &fakeHub{}
	svc := NewWebSocketHubService(hub)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
	if !hub.ran {
		t.Error("hub was not run")
	}
	if svc.String() != "websocket-hub" {
		t.Errorf("String() = %q", svc.String())
	}
}
