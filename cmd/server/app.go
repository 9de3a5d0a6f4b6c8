// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package main

import (
	"github.com/tomtom215/waypoint/internal/api"
	"github.com/tomtom215/waypoint/internal/awards"
	"github.com/tomtom215/waypoint/internal/config"
	"github.com/tomtom215/waypoint/internal/eventbus"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/progress"
	"github.com/tomtom215/waypoint/internal/remote"
	"github.com/tomtom215/waypoint/internal/store"
	"github.com/tomtom215/waypoint/internal/supervisor"
	"github.com/tomtom215/waypoint/internal/supervisor/services"
	"github.com/tomtom215/waypoint/internal/syncrepo"
	ws "github.com/tomtom215/waypoint/internal/websocket"
)

// app holds the wired components. Optional parts are nil when their
// configuration is absent: no sync URL means no sync loop, awards disabled
// means no manager or observer.
type app struct {
	cfg *config.Config

	progressBus *eventbus.Bus
	awardBus    *eventbus.Bus

	cms      *remote.CMSClient
	progress *progress.Repository
	defs     *awards.Definitions
	manager  *awards.Manager
	observer *awards.Observer
	loop     *syncrepo.Loop
	gc       *store.GCLoop

	hub       *ws.Hub
	forwarder *ws.Forwarder
}

func buildApp(cfg *config.Config, db *store.DB) *app {
	a := &app{
		cfg:         cfg,
		progressBus: eventbus.New("progress"),
		awardBus:    eventbus.New("awards"),
		hub:         ws.NewHub(),
	}

	var endpoint remote.SyncEndpoint
	if cfg.Remote.SyncURL != "" {
		endpoint = remote.NewSyncClient(remoteOptions(cfg, cfg.Remote.SyncURL))
	} else {
		logging.Warn().Msg("No sync endpoint configured, running local-only")
	}

	a.progress = progress.NewRepository(db, endpoint, a.progressBus, progress.Options{
		UserID:      cfg.User.ID,
		Brand:       cfg.User.Brand,
		PushOnWrite: endpoint != nil && cfg.Sync.PushOnWrite,
		BatchSize:   cfg.Sync.BatchSize,
	})

	syncers := []syncrepo.Syncer{a.progress.Syncer()}

	if cfg.Awards.Enabled {
		var source awards.DefinitionSource
		var durations awards.DurationSource
		if cfg.Remote.CMSURL != "" {
			a.cms = remote.NewCMSClient(remoteOptions(cfg, cfg.Remote.CMSURL), cfg.Remote.DurationCacheTTL)
			source, durations = a.cms, a.cms
		} else {
			logging.Warn().Msg("No CMS configured, award definitions come from the local snapshot only")
		}

		a.defs = awards.NewDefinitions(source, db, cfg.Awards.DefinitionsTTL)
		a.manager = awards.NewManager(db, endpoint, a.defs, a.progress, durations, a.awardBus,
			awards.ManagerOptions{BatchSize: cfg.Sync.BatchSize})
		a.observer = awards.NewObserver(a.defs, a.progressBus, a.manager, cfg.Awards.Debounce)
		syncers = append(syncers, a.manager.Syncer())
	}

	if endpoint != nil && cfg.Sync.Enabled {
		a.loop = syncrepo.NewLoop(syncrepo.LoopConfig{
			Interval:   cfg.Sync.Interval,
			MaxBackoff: cfg.Sync.MaxBackoff,
		}, syncers...)
		a.loop.OnCycle(func(report syncrepo.CycleReport) {
			a.hub.BroadcastSyncCompleted(report.Duration, !report.Unreachable)
		})
	}

	if !cfg.Store.InMemory {
		a.gc = store.NewGCLoop(db, cfg.Store.GCInterval)
	}

	a.forwarder = ws.NewForwarder(a.hub, a.awardBus, a.progressBus)
	return a
}

// Handler builds the API handler. Interfaces are only set for components
// that exist so a disabled component answers 503 instead of panicking.
func (a *app) Handler() *api.Handler {
	deps := api.Dependencies{
		Progress:       a.progress,
		Hub:            a.hub,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	}
	if a.manager != nil {
		deps.Awards = a.manager
		deps.Definitions = a.defs
	}
	if a.loop != nil {
		deps.Sync = a.loop
	}
	return api.NewHandler(deps)
}

// Supervise adds every background component to its layer.
func (a *app) Supervise(tree *supervisor.SupervisorTree) {
	if a.loop != nil {
		tree.AddDataService(services.NewLoopService("sync-loop", a.loop))
	}
	if a.gc != nil {
		tree.AddDataService(services.NewLoopService("store-gc", a.gc))
	}
	if a.observer != nil {
		tree.AddMessagingService(services.NewLoopService("award-observer", a.observer))
	}
	tree.AddMessagingService(services.NewLoopService("event-forwarder", a.forwarder))
	tree.AddMessagingService(services.NewWebSocketHubService(a.hub))
}

// Close releases what the supervisor does not own. It runs after the tree
// has stopped, so pending pushes finish before the store closes.
func (a *app) Close() {
	a.progress.Close()
	if a.manager != nil {
		a.manager.Close()
	}
	if a.cms != nil {
		a.cms.Close()
	}
	for _, bus := range []*eventbus.Bus{a.progressBus, a.awardBus} {
		if err := bus.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing event bus")
		}
	}
}

func storeConfig(cfg *config.Config) store.Config {
	return store.Config{
		Path:         cfg.Store.Path,
		InMemory:     cfg.Store.InMemory,
		SyncWrites:   cfg.Store.SyncWrites,
		CloseTimeout: cfg.Store.CloseTimeout,
	}
}

func remoteOptions(cfg *config.Config, baseURL string) remote.Options {
	return remote.Options{
		BaseURL:           baseURL,
		APIToken:          cfg.Remote.APIToken,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Burst:             cfg.Remote.Burst,
		BreakerFailures:   cfg.Remote.BreakerFailures,
		BreakerTimeout:    cfg.Remote.BreakerTimeout,
	}
}

func middlewareConfig(cfg *config.Config) *api.ChiMiddlewareConfig {
	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.Server.CORSOrigins
	mw.RateLimitRequests = cfg.Server.RateLimitReqs
	mw.RateLimitWindow = cfg.Server.RateLimitWindow
	return mw
}
