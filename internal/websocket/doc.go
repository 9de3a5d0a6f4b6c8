// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

/*
Package websocket pushes award notifications to connected UI clients.

A Hub owns the client set and fans messages out; each Client runs a read
pump (answers "ping" with "pong", detects disconnects) and a write pump
(writes JSON messages and keepalive pings). A Forwarder subscribes to the
event buses and turns bus events into hub broadcasts:

	award.granted  -> {"type":"award_granted","data":AwardGrantedEvent}
	award.progress -> {"type":"award_progress","data":AwardProgressEvent}
	progress.saved -> {"type":"progress_saved","data":ProgressSavedEvent}

The sync loop additionally reports finished cycles as "sync_completed" so
clients can re-read local state.

Delivery is best effort. A client whose send buffer is full is dropped
instead of stalling the hub, and clients that miss a grant can read it
back from GET /api/v1/awards.
*/
package websocket
