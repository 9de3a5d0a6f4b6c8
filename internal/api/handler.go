// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package api

import (
	"context"
	"time"

	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/progress"
	"github.com/tomtom215/waypoint/internal/syncrepo"
	ws "github.com/tomtom215/waypoint/internal/websocket"
)

// ProgressService is satisfied by *progress.Repository.
type ProgressService interface {
	RecordProgress(ctx context.Context, in progress.Input) (*models.ContentProgress, error)
	GetProgress(ctx context.Context, contentID int64, collection *models.Collection) (*models.ContentProgress, error)
	EraseProgress(ctx context.Context, contentID int64, collection *models.Collection) (bool, error)
	GetSomeProgressByContentIDsAndCollections(ctx context.Context, keys []progress.Key) ([]*models.ContentProgress, error)
	StandaloneStartedIDs(ctx context.Context) ([]int64, error)
	StandaloneCompletedIDs(ctx context.Context) ([]int64, error)
	RecentlyInteracted(ctx context.Context, limit int) ([]*models.ContentProgress, error)
}

// AwardService is satisfied by *awards.Manager.
type AwardService interface {
	ListAwardProgress(ctx context.Context) ([]*models.UserAwardProgress, error)
	GetAwardProgress(ctx context.Context, awardID string) (*models.UserAwardProgress, error)
	ResetAward(ctx context.Context, awardID string) (bool, error)
}

// DefinitionCatalog is satisfied by *awards.Definitions.
type DefinitionCatalog interface {
	GetAll(ctx context.Context) ([]models.AwardDefinition, error)
	GetByID(ctx context.Context, id string) (*models.AwardDefinition, error)
	Refresh(ctx context.Context) error
	LastRefresh() time.Time
	Len() int
}

// SyncRunner is satisfied by *syncrepo.Loop.
type SyncRunner interface {
	RunCycle(ctx context.Context) syncrepo.CycleReport
	LastReport() *syncrepo.CycleReport
	IsRunning() bool
}

// Handler serves the API endpoints. Nil dependencies disable their routes'
// behaviour with 503 responses, so the API can start before sync is
// configured.
type Handler struct {
	progress    ProgressService
	awards      AwardService
	definitions DefinitionCatalog
	sync        SyncRunner
	hub         *ws.Hub
	origins     []string
	startTime   time.Time
}

// Dependencies groups the services a Handler needs.
type Dependencies struct {
	Progress    ProgressService
	Awards      AwardService
	Definitions DefinitionCatalog
	Sync        SyncRunner
	Hub         *ws.Hub
	// AllowedOrigins lists browser origins accepted for websocket upgrades.
	AllowedOrigins []string
}

// NewHandler creates a Handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		progress:    deps.Progress,
		awards:      deps.Awards,
		definitions: deps.Definitions,
		sync:        deps.Sync,
		hub:         deps.Hub,
		origins:     deps.AllowedOrigins,
		startTime:   time.Now(),
	}
}
