// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package syncrepo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
)

// Syncer is one repository driven by the Loop.
type Syncer interface {
	Entity() string
	PushUnsynced(ctx context.Context) (PushSummary, error)
	Pull(ctx context.Context) (string, error)
}

// EntityReport is the outcome of one cycle for one entity.
type EntityReport struct {
	Entity    string      `json:"entity"`
	Push      PushSummary `json:"push"`
	PushError string      `json:"push_error,omitempty"`
	PullError string      `json:"pull_error,omitempty"`
	Token     string      `json:"token,omitempty"`
}

// CycleReport is the outcome of one sync cycle.
type CycleReport struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Entities    []EntityReport `json:"entities"`
	Unreachable bool           `json:"unreachable"`
}

// LoopConfig configures the background sync loop.
type LoopConfig struct {
	Interval   time.Duration
	MaxBackoff time.Duration
}

// Loop pushes pending records and pulls remote changes for every Syncer on
// a fixed interval. While the endpoint is unreachable the wait between
// cycles doubles up to MaxBackoff. Trigger requests an early cycle.
type Loop struct {
	syncers []Syncer
	config  LoopConfig
	holder  string

	trigger chan struct{}
	cycleMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	running  bool
	stopping bool
	stopDone chan struct{}
	last     *CycleReport
	onCycle  []func(CycleReport)
}

// NewLoop creates a sync loop. Entities are synced in the order given.
func NewLoop(cfg LoopConfig, syncers ...Syncer) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = cfg.Interval
	}
	return &Loop{
		syncers: syncers,
		config:  cfg,
		holder:  "sync-loop-" + uuid.New().String()[:8],
		trigger: make(chan struct{}, 1),
	}
}

// Start begins the background loop. It runs until Stop or ctx is cancelled.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()

	for l.stopping {
		stopDone := l.stopDone
		l.mu.Unlock()
		<-stopDone
		l.mu.Lock()
	}

	if l.running {
		l.mu.Unlock()
		return nil
	}

	l.ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	l.stopDone = make(chan struct{})

	loopCtx := l.ctx
	done := l.stopDone

	l.mu.Unlock()

	go l.run(loopCtx, done)

	logging.Info().
		Str("holder", l.holder).
		Dur("interval", l.config.Interval).
		Dur("max_backoff", l.config.MaxBackoff).
		Int("entities", len(l.syncers)).
		Msg("Sync loop started")
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running || l.stopping {
		l.mu.Unlock()
		return
	}

	l.cancel()
	l.running = false
	l.stopping = true
	stopDone := l.stopDone
	l.mu.Unlock()

	<-stopDone

	l.mu.Lock()
	l.stopping = false
	l.mu.Unlock()

	logging.Info().Msg("Sync loop stopped")
}

// IsRunning reports whether the loop is active.
func (l *Loop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Trigger asks the running loop for an immediate cycle. Requests made
// while one is already queued are merged.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// OnCycle registers fn to run after every completed cycle.
func (l *Loop) OnCycle(fn func(CycleReport)) {
	l.mu.Lock()
	l.onCycle = append(l.onCycle, fn)
	l.mu.Unlock()
}

// LastReport returns the most recent cycle report, or nil.
func (l *Loop) LastReport() *CycleReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	retry := l.newBackOff()
	timer := time.NewTimer(l.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-l.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		report := l.RunCycle(ctx)
		wait := l.config.Interval
		if report.Unreachable {
			wait = retry.NextBackOff()
			logging.Warn().Dur("next_attempt_in", wait).Msg("Sync endpoint unreachable, backing off")
		} else {
			retry.Reset()
		}
		timer.Reset(wait)
	}
}

// newBackOff grows the wait from Interval up to MaxBackoff while the
// endpoint stays unreachable. It never gives up.
func (l *Loop) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.config.Interval
	b.MaxInterval = l.config.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// RunCycle pushes then pulls every entity once and returns the report.
// Cycles never overlap; a concurrent call waits for the running one.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	report := CycleReport{ID: uuid.NewString(), StartedAt: time.Now()}
	ctx = logging.ContextWithCorrelationID(ctx, report.ID)

	for _, s := range l.syncers {
		if ctx.Err() != nil {
			break
		}
		er := EntityReport{Entity: s.Entity()}

		summary, err := s.PushUnsynced(ctx)
		er.Push = summary
		if err != nil {
			er.PushError = err.Error()
			if errors.Is(err, ErrTransport) {
				report.Unreachable = true
			}
		}

		token, err := s.Pull(ctx)
		er.Token = token
		if err != nil {
			er.PullError = err.Error()
			if errors.Is(err, ErrTransport) {
				report.Unreachable = true
			}
		}

		report.Entities = append(report.Entities, er)
	}

	report.Duration = time.Since(report.StartedAt)
	metrics.SyncCycleDuration.Observe(report.Duration.Seconds())

	level := zerolog.DebugLevel
	for _, er := range report.Entities {
		if er.PushError != "" || er.PullError != "" || er.Push.Failed > 0 {
			level = zerolog.InfoLevel
			break
		}
	}
	logging.Ctx(ctx).WithLevel(level).
		Dur("duration", report.Duration).
		Bool("unreachable", report.Unreachable).
		Interface("entities", report.Entities).
		Msg("Sync cycle complete")

	l.mu.Lock()
	l.last = &report
	hooks := l.onCycle
	l.mu.Unlock()

	for _, fn := range hooks {
		fn(report)
	}
	return report
}
