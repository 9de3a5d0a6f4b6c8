// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/waypoint/internal/middleware"
)

// Router wires handlers to routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil middleware config uses defaults.
func NewRouter(handler *Handler, config *ChiMiddlewareConfig) *Router {
	return &Router{handler: handler, chiMiddleware: NewChiMiddleware(config)}
}

// SetupChi builds the http.Handler.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()
	h := router.handler

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitCustom(RateLimitHealth))
		r.Use(APISecurityHeaders)
		r.Get("/live", h.HealthLive)
		r.Get("/ready", h.HealthReady)
	})

	r.Route("/api/v1/progress", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders)
		r.Post("/", h.RecordProgress)
		r.Post("/lookup", h.LookupProgress)
		r.Get("/standalone/started", h.StandaloneStarted)
		r.Get("/standalone/completed", h.StandaloneCompleted)
		r.Get("/recent", h.RecentProgress)
		r.Get("/{contentID}", h.GetProgress)
		r.Delete("/{contentID}", h.EraseProgress)
	})

	r.Route("/api/v1/awards", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Use(APISecurityHeaders)
		r.Get("/", h.ListAwards)
		r.With(router.chiMiddleware.RateLimitCustom(RateLimitRefresh)).Post("/refresh", h.RefreshDefinitions)
		r.Get("/{awardID}", h.GetAward)
		r.Delete("/{awardID}", h.ResetAward)
	})

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(APISecurityHeaders)
		r.With(router.chiMiddleware.RateLimitCustom(RateLimitSync)).Post("/", h.RunSync)
		r.Get("/status", h.SyncStatus)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", h.WebSocket)

	return r
}
