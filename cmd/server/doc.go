// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

/*
Package main is the entry point for the Waypoint daemon.

Waypoint keeps a learner's content progress and award progress in a local
BadgerDB store, evaluates awards as progress changes, and synchronizes both
with a remote sync endpoint whenever it is reachable. Every read and write is
served locally, so the daemon stays fully usable offline.

# Application Architecture

Long-lived components run under a Suture v4 supervisor tree:

	RootSupervisor ("waypoint")
	├── DataSupervisor ("data-layer")
	│   ├── Sync loop (push then pull, every entity)
	│   └── Store GC (value log garbage collection)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Award observer (debounced evaluation on progress events)
	│   ├── Event forwarder (event bus to websocket)
	│   └── WebSocket hub
	└── APISupervisor ("api-layer")
	    └── HTTP server (chi router)

Component initialization order:

 1. Configuration: Koanf v2 with YAML file and environment variables
 2. Logging: zerolog with JSON or console output
 3. Store: BadgerDB, on disk or in memory
 4. Remote clients: sync endpoint and CMS, both optional
 5. Progress repository and award definitions cache
 6. Award manager and observer
 7. Sync loop, websocket hub and forwarder
 8. HTTP server

# Configuration

Priority: environment variables > config file > defaults.

	WAYPOINT_USER_ID=42                      # learner id stamped on records
	WAYPOINT_USER_BRAND=drumeo               # default content brand
	WAYPOINT_STORE_PATH=/data/waypoint       # BadgerDB directory
	WAYPOINT_SYNC_URL=https://sync.example   # unset runs local-only
	WAYPOINT_CMS_URL=https://cms.example     # unset disables award definitions refresh
	WAYPOINT_API_TOKEN=<token>
	WAYPOINT_HTTP_PORT=7420
	LOG_LEVEL=info
	LOG_FORMAT=json

# Signal Handling

SIGINT and SIGTERM cancel the root context. The supervisor stops every
service within the shutdown timeout, then pending pushes finish and the
store is closed.
*/
package main
