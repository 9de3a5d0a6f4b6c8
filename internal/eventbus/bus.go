// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package eventbus is the in-process publish/subscribe primitive that
// connects progress writes to award evaluation and award results to the UI.
//
// A Bus wraps a Watermill GoChannel configured with
// BlockPublishUntilSubscriberAck, which makes Emit synchronous: it returns
// only after every listener subscribed at emission time has finished. Each
// listener runs behind a recover, so a panicking listener neither reaches
// the emitter nor stops other listeners from receiving the event.
//
// Listeners must not Emit on the channel they are handling from inside the
// listener itself; GoChannel holds the topic lock for the whole delivery.
// Emitting on another channel, or from a new goroutine, is fine.
//
//	progressBus := eventbus.New("progress")
//	sub, _ := eventbus.On(progressBus, eventbus.TopicProgressSaved,
//	    func(ctx context.Context, ev models.ProgressSavedEvent) { ... })
//	defer sub.Unsubscribe()
//
//	_ = eventbus.Emit(ctx, progressBus, eventbus.TopicProgressSaved, ev)
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
)

// Channels used by Waypoint. The progress bus carries TopicProgressSaved; the
// award bus carries the two award topics.
const (
	TopicProgressSaved = "progress.saved"
	TopicAwardGranted  = "award.granted"
	TopicAwardProgress = "award.progress"
)

const correlationMetadataKey = "correlation_id"

// ErrClosed is returned by Emit and On after Close.
var ErrClosed = errors.New("event bus closed")

// Listener receives the raw JSON payload of one event.
type Listener func(ctx context.Context, payload []byte)

// Bus is one independent event bus. Separate Bus values never share listeners.
type Bus struct {
	name   string
	pubsub *gochannel.GoChannel

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool

	wg sync.WaitGroup
}

// New creates a bus. name labels its metrics and log lines.
func New(name string) *Bus {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		logging.NewWatermillAdapter("eventbus-"+name),
	)
	return &Bus{
		name:   name,
		pubsub: pubsub,
		subs:   make(map[*Subscription]struct{}),
	}
}

// Name returns the bus name.
func (b *Bus) Name() string { return b.name }

// Subscription is the handle returned by On and Once.
type Subscription struct {
	bus     *Bus
	channel string
	cancel  context.CancelFunc

	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

// Channel returns the subscribed channel.
func (s *Subscription) Channel() string { return s.channel }

// Unsubscribe stops delivery to the listener. Safe to call more than once,
// including from inside the listener.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cancel()

		s.bus.mu.Lock()
		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			metrics.EventListeners.WithLabelValues(s.bus.name).Dec()
		}
		s.bus.mu.Unlock()
	})
}

func (s *Subscription) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

// On subscribes fn to channel until the returned subscription is cancelled.
func (b *Bus) On(channel string, fn Listener) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := b.pubsub.Subscribe(ctx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s/%s: %w", b.name, channel, err)
	}

	sub := &Subscription{bus: b, channel: channel, cancel: cancel}
	b.subs[sub] = struct{}{}
	metrics.EventListeners.WithLabelValues(b.name).Inc()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			b.dispatch(sub, msg, fn)
		}
	}()
	return sub, nil
}

// Once subscribes fn for a single delivery, then unsubscribes it.
func (b *Bus) Once(channel string, fn Listener) (*Subscription, error) {
	var sub *Subscription
	var fired sync.Once
	ready := make(chan struct{})

	sub, err := b.On(channel, func(ctx context.Context, payload []byte) {
		<-ready
		fired.Do(func() {
			sub.Unsubscribe()
			fn(ctx, payload)
		})
	})
	if err != nil {
		return nil, err
	}
	close(ready)
	return sub, nil
}

// Off cancels sub. It is equivalent to sub.Unsubscribe.
func (b *Bus) Off(sub *Subscription) {
	if sub != nil {
		sub.Unsubscribe()
	}
}

// ListenerCount returns the number of active subscriptions.
func (b *Bus) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) dispatch(sub *Subscription, msg *message.Message, fn Listener) {
	defer msg.Ack()
	defer func() {
		if r := recover(); r != nil {
			metrics.EventListenerPanics.WithLabelValues(b.name, sub.channel).Inc()
			logging.Error().
				Str("bus", b.name).
				Str("topic", sub.channel).
				Str("message_uuid", msg.UUID).
				Interface("panic", r).
				Msg("Event listener panicked")
		}
	}()

	if !sub.active() {
		return
	}

	ctx := context.Background()
	if id := msg.Metadata.Get(correlationMetadataKey); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}
	fn(ctx, msg.Payload)
}

// Emit delivers payload, encoded as JSON, to every listener on channel and
// returns once all of them have run.
func (b *Bus) Emit(ctx context.Context, channel string, payload interface{}) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", channel, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(correlationMetadataKey, id)
	}

	if err := b.pubsub.Publish(channel, msg); err != nil {
		return fmt.Errorf("publish %s/%s: %w", b.name, channel, err)
	}
	metrics.EventsEmitted.WithLabelValues(b.name, channel).Inc()
	return nil
}

// Close unsubscribes every listener and shuts the bus down. Further calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	err := b.pubsub.Close()
	b.wg.Wait()
	if err != nil {
		return fmt.Errorf("close %s bus: %w", b.name, err)
	}
	return nil
}
