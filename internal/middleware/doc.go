// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package middleware holds HTTP middleware shared by the local API:
// request id propagation into the logging context and Prometheus request
// instrumentation. Both use the chi func(http.Handler) http.Handler shape.
package middleware
