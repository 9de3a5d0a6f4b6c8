// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package awards

import (
	"context"
	"sync"
	"time"
)

// Debouncer runs fn for a key once no trigger for that key has arrived for
// the configured delay (trailing edge). Keys are independent.
type Debouncer[K comparable] struct {
	delay time.Duration
	fn    func(ctx context.Context, key K)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[K]*time.Timer
	stopped bool
	running sync.WaitGroup
}

// NewDebouncer creates a debouncer whose callbacks receive a context that is
// cancelled by Stop.
func NewDebouncer[K comparable](delay time.Duration, fn func(ctx context.Context, key K)) *Debouncer[K] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer[K]{
		delay:  delay,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[K]*time.Timer),
	}
}

// Trigger (re)schedules fn for key. It reports whether a pending call was
// replaced.
func (d *Debouncer[K]) Trigger(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}

	replaced := false
	if t, ok := d.timers[key]; ok {
		replaced = t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.stopped || d.timers[key] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, key)
		d.running.Add(1)
		d.mu.Unlock()

		defer d.running.Done()
		d.fn(d.ctx, key)
	})
	d.timers[key] = t
	return replaced
}

// Cancel drops the pending call for key, if any.
func (d *Debouncer[K]) Cancel(key K) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Pending returns the number of keys waiting to fire.
func (d *Debouncer[K]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels every pending call, cancels the callback context and waits
// for callbacks already running. Later triggers are ignored.
func (d *Debouncer[K]) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
	d.mu.Unlock()

	d.cancel()
	d.running.Wait()
}
