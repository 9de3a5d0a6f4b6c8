// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package metrics registers Waypoint's Prometheus collectors on the default
// registry and provides small Record* helpers so call sites stay one line.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Local store
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waypoint_store_operation_duration_seconds",
			Help:    "Duration of local store operations in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation", "collection"}, // operation: get, write, query
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_store_operation_errors_total",
			Help: "Total number of failed local store operations",
		},
		[]string{"operation", "collection"},
	)

	StoreGCRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_store_gc_runs_total",
			Help: "Total number of value log GC runs",
		},
		[]string{"result"}, // "rewritten", "noop", "error"
	)

	// Progress
	ProgressWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_progress_writes_total",
			Help: "Total number of recorded progress writes",
		},
		[]string{"collection_type", "outcome"}, // outcome: "advanced", "kept", "reset", "erased", "error"
	)

	// Event bus
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_events_emitted_total",
			Help: "Total number of events emitted on an in-process bus",
		},
		[]string{"bus", "topic"},
	)

	EventListenerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_event_listener_panics_total",
			Help: "Total number of recovered listener panics",
		},
		[]string{"bus", "topic"},
	)

	EventListeners = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waypoint_event_listeners",
			Help: "Current number of subscribed listeners",
		},
		[]string{"bus"},
	)

	// Sync
	SyncPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_sync_push_records_total",
			Help: "Total number of records pushed, by result",
		},
		[]string{"entity", "result"}, // result: "success", "failure", "transport_error"
	)

	SyncPulls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_sync_pulls_total",
			Help: "Total number of pull requests, by result",
		},
		[]string{"entity", "result"},
	)

	SyncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waypoint_sync_cycle_duration_seconds",
			Help:    "Duration of one background sync cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncUnsyncedRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waypoint_sync_unsynced_records",
			Help: "Records waiting to be pushed after the last sync cycle",
		},
		[]string{"entity"},
	)

	// Awards
	AwardEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_award_evaluations_total",
			Help: "Total number of award evaluations, by outcome",
		},
		[]string{"outcome"},
	)

	AwardEvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waypoint_award_evaluation_duration_seconds",
			Help:    "Duration of a single award evaluation",
			Buckets: prometheus.DefBuckets,
		},
	)

	AwardDefinitionRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_award_definition_refreshes_total",
			Help: "Total number of award definition refreshes, by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	AwardDefinitions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypoint_award_definitions",
			Help: "Number of cached award definitions",
		},
	)

	AwardWatchSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypoint_award_watch_set_size",
			Help: "Number of content ids the award observer reacts to",
		},
	)

	AwardTriggersCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waypoint_award_triggers_coalesced_total",
			Help: "Progress events absorbed by a pending debounce or a running evaluation",
		},
	)

	// Remote clients
	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waypoint_remote_request_duration_seconds",
			Help:    "Duration of outbound HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"client", "operation"},
	)

	DurationCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_duration_cache_lookups_total",
			Help: "Content duration cache lookups, by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waypoint_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypoint_api_active_requests",
			Help: "Number of in-flight API requests",
		},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waypoint_websocket_connections",
			Help: "Number of connected WebSocket clients",
		},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waypoint_websocket_messages_sent_total",
			Help: "Total number of broadcast WebSocket messages",
		},
		[]string{"type"},
	)
)

// RecordStoreOperation records latency and, when err is non-nil, an error.
func RecordStoreOperation(operation, collection string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation, collection).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation, collection).Inc()
	}
}

// RecordAPIRequest records one completed HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest increments or decrements the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordAwardEvaluation records the outcome and duration of one evaluation.
func RecordAwardEvaluation(outcome string, duration time.Duration) {
	AwardEvaluations.WithLabelValues(outcome).Inc()
	AwardEvaluationDuration.Observe(duration.Seconds())
}

// RecordSyncPush adds n records to the push counter for entity/result.
func RecordSyncPush(entity, result string, n int) {
	if n <= 0 {
		return
	}
	SyncPushes.WithLabelValues(entity, result).Add(float64(n))
}

// RecordSyncPull records one pull attempt.
func RecordSyncPull(entity string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	SyncPulls.WithLabelValues(entity, result).Inc()
}
