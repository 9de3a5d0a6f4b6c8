// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*LoopService)(nil)
	_ suture.Service = (*WebSocketHubService)(nil)
)

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	stop        chan struct{}
	once        sync.Once
	shutdowns   atomic.Int32
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	f.started <- struct{}{}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	f.once.Do(func() { close(f.stop) })
	return f.shutdownErr
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("Shutdown called %d times, want 1", srv.shutdowns.Load())
	}
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.listenErr = errors.New("address already in use")
	svc := NewHTTPServerService(srv, 0)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve() = %v, want wrapped listen error", err)
	}
	if svc.shutdownTimeout != DefaultShutdownTimeout {
		t.Errorf("shutdownTimeout = %v, want default", svc.shutdownTimeout)
	}
}

func TestHTTPServerService_ShutdownFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.shutdownErr = errors.New("drain timed out")
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	<-srv.started
	cancel()

	if err := <-done; !errors.Is(err, srv.shutdownErr) {
		t.Errorf("Serve() = %v, want wrapped shutdown error", err)
	}
	if svc.String() != "http-server" {
		t.Errorf("String() = %q", svc.String())
	}
}
