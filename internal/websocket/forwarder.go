// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/waypoint/internal/eventbus"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/models"
)

// Forwarder relays bus events to websocket clients: award grants and
// award progress from the award bus, and saved progress from the progress
// bus when one is given.
type Forwarder struct {
	hub         *Hub
	awardBus    *eventbus.Bus
	progressBus *eventbus.Bus

	mu      sync.Mutex
	subs    []*eventbus.Subscription
	running bool
}

// NewForwarder creates a forwarder. progressBus may be nil.
func NewForwarder(hub *Hub, awardBus, progressBus *eventbus.Bus) *Forwarder {
	return &Forwarder{hub: hub, awardBus: awardBus, progressBus: progressBus}
}

// Start subscribes to the buses.
func (f *Forwarder) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil
	}

	granted, err := eventbus.On(f.awardBus, eventbus.TopicAwardGranted,
		func(ctx context.Context, ev models.AwardGrantedEvent) {
			logging.Ctx(ctx).Debug().Str("award_id", ev.AwardID).Msg("Forwarding award grant")
			f.hub.Broadcast(MessageTypeAwardGranted, ev)
		})
	if err != nil {
		return fmt.Errorf("subscribe award grants: %w", err)
	}
	subs := []*eventbus.Subscription{granted}

	progress, err := eventbus.On(f.awardBus, eventbus.TopicAwardProgress,
		func(_ context.Context, ev models.AwardProgressEvent) {
			f.hub.Broadcast(MessageTypeAwardProgress, ev)
		})
	if err != nil {
		unsubscribeAll(subs)
		return fmt.Errorf("subscribe award progress: %w", err)
	}
	subs = append(subs, progress)

	if f.progressBus != nil {
		saved, err := eventbus.On(f.progressBus, eventbus.TopicProgressSaved,
			func(_ context.Context, ev models.ProgressSavedEvent) {
				f.hub.Broadcast(MessageTypeProgressSaved, ev)
			})
		if err != nil {
			unsubscribeAll(subs)
			return fmt.Errorf("subscribe saved progress: %w", err)
		}
		subs = append(subs, saved)
	}

	f.subs = subs
	f.running = true
	return nil
}

// Stop unsubscribes. It is safe to call more than once.
func (f *Forwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	unsubscribeAll(f.subs)
	f.subs = nil
	f.running = false
}

// IsRunning reports whether the forwarder is subscribed.
func (f *Forwarder) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func unsubscribeAll(subs []*eventbus.Subscription) {
	for _, s := range subs {
		s.Unsubscribe()
	}
}
