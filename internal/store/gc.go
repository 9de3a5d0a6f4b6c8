// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package store

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
)

// GCLoop periodically reclaims value log space. Progress records are
// rewritten on every interaction, so the value log accumulates stale
// versions quickly on an active device.
type GCLoop struct {
	db       *DB
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// NewGCLoop creates a GC loop running every interval (default 10m).
func NewGCLoop(db *DB, interval time.Duration) *GCLoop {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCLoop{db: db, interval: interval}
}

// Start begins the background loop. Starting a running loop is a no-op.
func (g *GCLoop) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.running = true
	g.mu.Unlock()

	g.wg.Add(1)
	go g.run()

	logging.Info().Dur("interval", g.interval).Msg("Store GC loop started")
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (g *GCLoop) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.cancel()
	g.running = false
	g.mu.Unlock()

	g.wg.Wait()
	logging.Info().Msg("Store GC loop stopped")
}

// IsRunning reports whether the loop is active.
func (g *GCLoop) IsRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// LastRun returns when GC last ran, or the zero time.
func (g *GCLoop) LastRun() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRun
}

func (g *GCLoop) run() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.collect()
		}
	}
}

func (g *GCLoop) collect() {
	rewrites, err := g.db.RunGC()

	g.mu.Lock()
	g.lastRun = time.Now()
	g.mu.Unlock()

	switch {
	case err != nil:
		metrics.StoreGCRuns.WithLabelValues("error").Inc()
		logging.Error().Err(err).Msg("Store GC failed")
	case rewrites > 0:
		metrics.StoreGCRuns.WithLabelValues("rewritten").Inc()
		logging.Debug().Int("rewrites", rewrites).Msg("Store GC reclaimed value log space")
	default:
		metrics.StoreGCRuns.WithLabelValues("noop").Inc()
	}
}
