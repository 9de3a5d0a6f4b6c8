// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package services

import (
	"context"
	"fmt"

	"github.com/tomtom215/waypoint/internal/logging"
)

// StartStopper is the lifecycle shared by syncrepo.Loop, store.GCLoop and
// awards.Observer. Start returns once background work is running; Stop
// blocks until it has finished and is safe to call more than once.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// LoopService supervises a StartStopper.
//
//	loop := syncrepo.NewLoop(cfg, progressRepo.Syncer(), awardManager.Syncer())
//	tree.AddDataService(services.NewLoopService("sync-loop", loop))
type LoopService struct {
	loop StartStopper
	name string
}

// NewLoopService wraps loop under the given service name.
func NewLoopService(name string, loop StartStopper) *LoopService {
	return &LoopService{loop: loop, name: name}
}

// Serve implements suture.Service.
func (s *LoopService) Serve(ctx context.Context) error {
	// A previous run that panicked may have left the loop marked running.
	if s.loop.IsRunning() {
		s.loop.Stop()
	}

	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	logging.Debug().Str("service", s.name).Msg("Service started")

	<-ctx.Done()

	s.loop.Stop()
	logging.Debug().Str("service", s.name).Msg("Service stopped")
	return ctx.Err()
}

// String implements fmt.Stringer for suture's log messages.
func (s *LoopService) String() string {
	return s.name
}
