// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// ChiMiddlewareConfig configures CORS and rate limiting.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// DefaultChiMiddlewareConfig allows no cross-origin callers and 300
// requests per minute per client.
func DefaultChiMiddlewareConfig() *ChiMiddlewareConfig {
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		CORSMaxAge:         86400,
		RateLimitRequests:  300,
		RateLimitWindow:    time.Minute,
	}
}

// RateLimitConfig is one endpoint group's limit.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

var (
	// RateLimitSync bounds manual sync cycles, each of which hits the network.
	RateLimitSync = RateLimitConfig{Requests: 10, Window: time.Minute}

	// RateLimitRefresh bounds forced definition refreshes.
	RateLimitRefresh = RateLimitConfig{Requests: 5, Window: time.Minute}

	// RateLimitHealth is permissive for probes.
	RateLimitHealth = RateLimitConfig{Requests: 1000, Window: time.Minute}
)

// ChiMiddleware builds chi middleware from a config.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware creates the factory. A nil config uses defaults.
func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	if config == nil {
		config = DefaultChiMiddlewareConfig()
	}
	return &ChiMiddleware{
		config: config,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: config.CORSAllowedMethods,
			AllowedHeaders: config.CORSAllowedHeaders,
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         config.CORSMaxAge,
		}),
	}
}

// CORS returns the go-chi/cors handler.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

func passthrough(next http.Handler) http.Handler { return next }

// RateLimit applies the default per-IP limit.
func (m *ChiMiddleware) RateLimit() func(http.Handler) http.Handler {
	return m.RateLimitCustom(RateLimitConfig{Requests: m.config.RateLimitRequests, Window: m.config.RateLimitWindow})
}

// RateLimitCustom applies limit per client IP, answering 429 in the API
// error envelope.
func (m *ChiMiddleware) RateLimitCustom(limit RateLimitConfig) func(http.Handler) http.Handler {
	if m.config.RateLimitDisabled || limit.Requests <= 0 {
		return passthrough
	}
	return httprate.Limit(limit.Requests, limit.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "Rate limit exceeded", nil)
		}),
	)
}

// APISecurityHeaders sets headers appropriate for a JSON API.
func APISecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
