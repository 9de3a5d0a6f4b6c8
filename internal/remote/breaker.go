// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package remote

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	Name string

	// ConsecutiveFailures before the breaker opens.
	ConsecutiveFailures uint32

	// Timeout is how long the breaker stays open before allowing a probe.
	Timeout time.Duration
}

// Breaker guards one remote dependency. Once open it rejects calls
// immediately, which the sync loop treats like any other transport failure.
//
// Client errors (4xx other than 429) do not count as failures: the server
// answered, so the dependency is healthy.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// NewBreaker creates a breaker and initializes its metrics.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			if trip {
				logging.Warn().
					Str("breaker", cfg.Name).
					Uint32("consecutive_failures", counts.ConsecutiveFailures).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},

		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *StatusError
			return errors.As(err, &se) && se.clientError()
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &Breaker{cb: cb, name: cfg.Name}
}

// Execute runs fn through the breaker. A rejected call returns an error
// wrapping ErrUnavailable.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)
		return nil
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		logging.Debug().Err(err).Str("breaker", b.name).Msg("[CIRCUIT BREAKER] Request rejected")
		return errors.Join(ErrUnavailable, err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(b.cb.Counts().ConsecutiveFailures))
		return err
	}
}

// State returns the breaker state as "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return stateToString(b.cb.State())
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
