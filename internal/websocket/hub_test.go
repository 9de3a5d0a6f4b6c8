// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/waypoint/internal/metrics"
)

func newTestClient(h *Hub, buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), hub: h, send: make(chan Message, buffer)}
}

func runHub(t *testing.T, h *Hub) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.GetClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := NewHub()
	runHub(t, h)

	a, b := newTestClient(h, 4), newTestClient(h, 4)
	h.Register <- a
	h.Register <- b
	waitForClients(t, h, 2)
	if got := testutil.ToFloat64(metrics.WSConnections); got != 2 {
		t.Errorf("WSConnections = %v, want 2", got)
	}

	before := testutil.ToFloat64(metrics.WSMessagesSent.WithLabelValues(MessageTypeAwardGranted))
	if !h.Broadcast(MessageTypeAwardGranted, map[string]string{"awardId": "abc"}) {
		t.Fatal("Broadcast() rejected the message")
	}
	for _, c := range []*Client{a, b} {
		if msg := receive(t, c); msg.Type != MessageTypeAwardGranted {
			t.Errorf("client %d got %q", c.id, msg.Type)
		}
	}
	if got := testutil.ToFloat64(metrics.WSMessagesSent.WithLabelValues(MessageTypeAwardGranted)); got != before+1 {
		t.Errorf("WSMessagesSent = %v, want %v", got, before+1)
	}

	h.Unregister <- a
	waitForClients(t, h, 1)
	if _, ok := <-a.send; ok {
		t.Error("unregistered client's channel should be closed")
	}

	// Unknown clients are ignored.
	h.Unregister <- newTestClient(h, 1)
	waitForClients(t, h, 1)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := NewHub()
	runHub(t, h)

	slow, fast := newTestClient(h, 1), newTestClient(h, 8)
	h.Register <- slow
	h.Register <- fast
	waitForClients(t, h, 2)

	h.Broadcast(MessageTypeAwardProgress, 1)
	h.Broadcast(MessageTypeAwardProgress, 2)
	waitForClients(t, h, 1)

	if msg := receive(t, fast); msg.Data != 1 {
		t.Errorf("first message data = %v", msg.Data)
	}
	if msg := receive(t, fast); msg.Data != 2 {
		t.Errorf("second message data = %v", msg.Data)
	}
}

func TestHub_BroadcastQueueFull(t *testing.T) {
	h := NewHub()
	for i := 0; i < defaultBroadcastQueueSize; i++ {
		if !h.Broadcast(MessageTypeSyncCompleted, i) {
			t.Fatalf("queue rejected message %d", i)
		}
	}
	if h.Broadcast(MessageTypeSyncCompleted, "overflow") {
		t.Error("Broadcast() should drop when the queue is full")
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := NewHub()
	cancel, done := runHub(t, h)

	c := newTestClient(h, 1)
	h.Register <- c
	waitForClients(t, h, 1)

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	if h.GetClientCount() != 0 {
		t.Error("clients left after shutdown")
	}
	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on shutdown")
	}
}

func TestHub_BroadcastSyncCompleted(t *testing.T) {
	h := NewHub()
	runHub(t, h)
	c := newTestClient(h, 1)
	h.Register <- c
	waitForClients(t, h, 1)

	h.BroadcastSyncCompleted(1500*time.Millisecond, true)
	msg := receive(t, c)
	data, ok := msg.Data.(SyncCompletedData)
	if msg.Type != MessageTypeSyncCompleted || !ok || data.DurationMs != 1500 || !data.Reachable {
		t.Errorf("message = %+v", msg)
	}
}
