// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package awards

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/waypoint/internal/eventbus"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
	"github.com/tomtom215/waypoint/internal/models"
)

// DefaultDebounce is the quiet period before a parent is evaluated.
const DefaultDebounce = 50 * time.Millisecond

// ParentEvaluator evaluates every award of a parent content id.
// *Manager satisfies it.
type ParentEvaluator interface {
	EvaluateAwardsForParent(ctx context.Context, parentID int64) []Evaluation
}

// Observer turns progress-saved events into award evaluations. Events for
// content outside every award are dropped with a map lookup; the rest are
// debounced per parent content id.
type Observer struct {
	defs      *Definitions
	bus       *eventbus.Bus
	evaluator ParentEvaluator
	delay     time.Duration

	mu         sync.Mutex
	running    bool
	sub        *eventbus.Subscription
	debouncer  *Debouncer[int64]
	watch      map[int64][]int64
	processing map[int64]bool // parent id -> re-run requested
}

// NewObserver creates an observer. debounce <= 0 uses DefaultDebounce.
func NewObserver(defs *Definitions, bus *eventbus.Bus, evaluator ParentEvaluator, debounce time.Duration) *Observer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	o := &Observer{
		defs:       defs,
		bus:        bus,
		evaluator:  evaluator,
		delay:      debounce,
		watch:      map[int64][]int64{},
		processing: map[int64]bool{},
	}
	defs.OnRefresh(o.rebuildWatchSet)
	return o
}

// Start loads definitions, builds the watch-set and subscribes to the
// progress bus. Definitions that cannot be loaded leave an empty watch-set
// until the next successful refresh.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	if _, err := o.defs.GetAll(ctx); err != nil {
		logging.Warn().Err(err).Msg("Award observer starting without definitions")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	sub, err := eventbus.On(o.bus, eventbus.TopicProgressSaved, o.handle)
	if err != nil {
		return fmt.Errorf("subscribe to progress events: %w", err)
	}
	o.sub = sub
	o.debouncer = NewDebouncer(o.delay, o.evaluate)
	o.watch = o.defs.ParentsByChild()
	o.processing = map[int64]bool{}
	o.running = true
	metrics.AwardWatchSetSize.Set(float64(len(o.watch)))

	logging.Info().
		Int("watched_content", len(o.watch)).
		Dur("debounce", o.delay).
		Msg("Award observer started")
	return nil
}

// Stop unsubscribes, cancels pending evaluations and waits for running
// ones. It is safe to call more than once.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	sub, debouncer := o.sub, o.debouncer
	o.sub, o.debouncer = nil, nil
	o.mu.Unlock()

	sub.Unsubscribe()
	debouncer.Stop()

	o.mu.Lock()
	o.watch = map[int64][]int64{}
	o.processing = map[int64]bool{}
	o.mu.Unlock()
	metrics.AwardWatchSetSize.Set(0)

	logging.Info().Msg("Award observer stopped")
}

// IsRunning reports whether the observer is subscribed.
func (o *Observer) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Watching reports whether events for contentID trigger evaluations.
func (o *Observer) Watching(contentID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.watch[contentID]
	return ok
}

func (o *Observer) rebuildWatchSet() {
	watch := o.defs.ParentsByChild()
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.watch = watch
	metrics.AwardWatchSetSize.Set(float64(len(watch)))
	logging.Debug().Int("watched_content", len(watch)).Msg("Award watch-set rebuilt")
}

func (o *Observer) handle(_ context.Context, e models.ProgressSavedEvent) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	parents := o.watch[e.ContentID]
	debouncer := o.debouncer
	o.mu.Unlock()

	for _, parent := range parents {
		if debouncer.Trigger(parent) {
			metrics.AwardTriggersCoalesced.Inc()
		}
	}
}

// evaluate runs the evaluator for parent unless it is already running. A
// trigger that lands during a run schedules exactly one more run.
func (o *Observer) evaluate(ctx context.Context, parent int64) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	if _, busy := o.processing[parent]; busy {
		o.processing[parent] = true
		o.mu.Unlock()
		metrics.AwardTriggersCoalesced.Inc()
		return
	}
	o.processing[parent] = false
	o.mu.Unlock()

	for {
		evalCtx := logging.ContextWithNewCorrelationID(ctx)
		results := o.evaluator.EvaluateAwardsForParent(evalCtx, parent)
		logging.Ctx(evalCtx).Debug().
			Int64("parent_content_id", parent).
			Int("awards", len(results)).
			Msg("Awards evaluated")

		o.mu.Lock()
		rerun := o.processing[parent]
		if rerun && o.running && ctx.Err() == nil {
			o.processing[parent] = false
			o.mu.Unlock()
			continue
		}
		delete(o.processing, parent)
		o.mu.Unlock()
		return
	}
}
