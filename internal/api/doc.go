// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

/*
Package api serves Waypoint's local HTTP API on a chi router.

Routes:

	POST   /api/v1/progress                     record progress (monotonic)
	POST   /api/v1/progress/lookup              batched (content, collection) read
	GET    /api/v1/progress/standalone/started  content ids started outside collections
	GET    /api/v1/progress/standalone/completed
	GET    /api/v1/progress/recent?limit=N      most recently updated records
	GET    /api/v1/progress/{contentID}         one record, ?collection_type=&collection_id=
	DELETE /api/v1/progress/{contentID}         erase one record
	GET    /api/v1/awards                       definitions joined with user progress
	GET    /api/v1/awards/{awardID}
	DELETE /api/v1/awards/{awardID}             reset the user's progress for one award
	POST   /api/v1/awards/refresh               force a definitions refresh
	POST   /api/v1/sync                         run one push/pull cycle now
	GET    /api/v1/sync/status                  last cycle report
	GET    /api/v1/health/live
	GET    /api/v1/health/ready
	GET    /metrics                             Prometheus
	GET    /ws                                  award notifications

Every JSON response uses models.APIResponse. Errors carry
{"status":"error","error":{"code":...,"message":...}}; validation failures
use code VALIDATION_ERROR with per-field details.
*/
package api
