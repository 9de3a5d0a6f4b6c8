// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

/*
Package services adapts Waypoint components to suture.Service.

Three lifecycle shapes are translated into Serve(ctx):

  - Start/Stop loops (LoopService): the sync loop, the store GC loop, the
    award observer and the event forwarder. Serve starts the component,
    blocks until the context is cancelled, then stops it.
  - ListenAndServe (HTTPServerService): the REST API. Shutdown drains
    in-flight requests within a timeout.
  - RunWithContext (WebSocketHubService): the websocket hub already blocks
    on its context, so the wrapper only names it.

Return values drive suture's restart decisions: a start failure or a
crashed server is returned as an error and the service is restarted with
backoff; ctx.Err() marks a requested shutdown.
*/
package services
