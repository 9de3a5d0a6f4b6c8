// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package awards

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/store"
	"golang.org/x/sync/singleflight"
)

// DefaultDefinitionsTTL is how long a definitions snapshot is trusted.
const DefaultDefinitionsTTL = 24 * time.Hour

const definitionsMetaKey = "awards/definitions"

// ErrNoDefinitions is returned when a refresh fails and nothing is cached.
var ErrNoDefinitions = errors.New("award definitions unavailable")

// DefinitionSource fetches every published award definition.
// *remote.CMSClient satisfies it.
type DefinitionSource interface {
	FetchAwardDefinitions(ctx context.Context) ([]models.AwardDefinition, error)
}

// snapshot is an immutable, fully indexed set of definitions.
type snapshot struct {
	defs      []models.AwardDefinition
	byID      map[string]int
	byContent map[int64][]int
	byParent  map[int64][]int
	fetchedAt time.Time
	raw       []byte
}

func newSnapshot(defs []models.AwardDefinition, fetchedAt time.Time) (*snapshot, error) {
	sorted := make([]models.AwardDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	raw, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("encode definitions: %w", err)
	}

	s := &snapshot{
		defs:      sorted,
		byID:      make(map[string]int, len(sorted)),
		byContent: make(map[int64][]int),
		byParent:  make(map[int64][]int),
		fetchedAt: fetchedAt,
		raw:       raw,
	}
	for i := range sorted {
		d := &sorted[i]
		s.byID[d.ID] = i
		s.byParent[d.ParentContentID] = append(s.byParent[d.ParentContentID], i)
		for _, child := range d.ChildContentIDs {
			s.byContent[child] = append(s.byContent[child], i)
		}
	}
	return s, nil
}

func (s *snapshot) pick(idx []int) []models.AwardDefinition {
	out := make([]models.AwardDefinition, len(idx))
	for i, j := range idx {
		out[i] = s.defs[j]
	}
	return out
}

type persistedDefinitions struct {
	FetchedAt   time.Time                `json:"fetched_at"`
	Definitions []models.AwardDefinition `json:"definitions"`
}

// Definitions caches award definitions with a TTL. Concurrent refreshes
// share one fetch, and readers always see a complete index.
type Definitions struct {
	source DefinitionSource
	db     *store.DB
	ttl    time.Duration
	now    func() time.Time

	refreshes singleflight.Group
	current   atomic.Pointer[snapshot]

	hooksMu sync.Mutex
	hooks   []func()
}

// NewDefinitions creates the cache. When db is non-nil a snapshot persisted
// by an earlier run is loaded and later refreshes are persisted.
func NewDefinitions(source DefinitionSource, db *store.DB, ttl time.Duration) *Definitions {
	if ttl <= 0 {
		ttl = DefaultDefinitionsTTL
	}
	d := &Definitions{source: source, db: db, ttl: ttl, now: time.Now}
	d.loadPersisted()
	return d
}

func (d *Definitions) loadPersisted() {
	if d.db == nil {
		return
	}
	var p persistedDefinitions
	if err := d.db.GetMeta(definitionsMetaKey, &p); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Warn().Err(err).Msg("Failed to load persisted award definitions")
		}
		return
	}
	snap, err := newSnapshot(p.Definitions, p.FetchedAt)
	if err != nil {
		logging.Warn().Err(err).Msg("Discarding persisted award definitions")
		return
	}
	d.current.Store(snap)
	metrics.AwardDefinitions.Set(float64(len(snap.defs)))
	logging.Info().
		Int("definitions", len(snap.defs)).
		Time("fetched_at", p.FetchedAt).
		Msg("Loaded persisted award definitions")
}

// OnRefresh registers fn to run after a refresh that changed the set of
// definitions.
func (d *Definitions) OnRefresh(fn func()) {
	d.hooksMu.Lock()
	d.hooks = append(d.hooks, fn)
	d.hooksMu.Unlock()
}

// ShouldRefresh reports whether the cache is empty or older than the TTL.
func (d *Definitions) ShouldRefresh() bool {
	snap := d.current.Load()
	return snap == nil || d.now().Sub(snap.fetchedAt) >= d.ttl
}

// LastRefresh returns when the cached snapshot was fetched, or zero.
func (d *Definitions) LastRefresh() time.Time {
	if snap := d.current.Load(); snap != nil {
		return snap.fetchedAt
	}
	return time.Time{}
}

// Refresh fetches definitions now, regardless of the TTL. Callers arriving
// while a fetch is in flight wait for that fetch instead of starting one.
func (d *Definitions) Refresh(ctx context.Context) error {
	ch := d.refreshes.DoChan("refresh", func() (interface{}, error) {
		return nil, d.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Definitions) refresh(ctx context.Context) error {
	if d.source == nil {
		return fmt.Errorf("%w: no definition source configured", ErrNoDefinitions)
	}
	defs, err := d.source.FetchAwardDefinitions(ctx)
	if err != nil {
		metrics.AwardDefinitionRefreshes.WithLabelValues("failure").Inc()
		return fmt.Errorf("refresh award definitions: %w", err)
	}

	fetchedAt := d.now()
	snap, err := newSnapshot(defs, fetchedAt)
	if err != nil {
		metrics.AwardDefinitionRefreshes.WithLabelValues("failure").Inc()
		return err
	}
	prev := d.current.Swap(snap)
	metrics.AwardDefinitionRefreshes.WithLabelValues("success").Inc()
	metrics.AwardDefinitions.Set(float64(len(snap.defs)))

	if d.db != nil {
		if err := d.db.SetMeta(definitionsMetaKey, persistedDefinitions{FetchedAt: fetchedAt, Definitions: snap.defs}); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to persist award definitions")
		}
	}

	changed := prev == nil || !bytes.Equal(prev.raw, snap.raw)
	logging.Ctx(ctx).Info().
		Int("definitions", len(snap.defs)).
		Bool("changed", changed).
		Msg("Award definitions refreshed")

	if changed {
		d.hooksMu.Lock()
		hooks := append([]func(){}, d.hooks...)
		d.hooksMu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	}
	return nil
}

// load returns a usable snapshot, refreshing first when due. A failed
// refresh falls back to the previous snapshot.
func (d *Definitions) load(ctx context.Context) (*snapshot, error) {
	if d.ShouldRefresh() {
		if err := d.Refresh(ctx); err != nil {
			if snap := d.current.Load(); snap != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("Using stale award definitions")
				return snap, nil
			}
			return nil, fmt.Errorf("%w: %w", ErrNoDefinitions, err)
		}
	}
	snap := d.current.Load()
	if snap == nil {
		return nil, ErrNoDefinitions
	}
	return snap, nil
}

// GetAll returns every definition, ordered by id.
func (d *Definitions) GetAll(ctx context.Context) ([]models.AwardDefinition, error) {
	snap, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.AwardDefinition, len(snap.defs))
	copy(out, snap.defs)
	return out, nil
}

// GetByID returns the definition with id, or nil.
func (d *Definitions) GetByID(ctx context.Context, id string) (*models.AwardDefinition, error) {
	snap, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	i, ok := snap.byID[id]
	if !ok {
		return nil, nil
	}
	def := snap.defs[i]
	return &def, nil
}

// GetByContentID returns the awards that list contentID as a child.
func (d *Definitions) GetByContentID(ctx context.Context, contentID int64) ([]models.AwardDefinition, error) {
	snap, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.pick(snap.byContent[contentID]), nil
}

// GetByParentContentID returns the awards attached to a parent content id.
func (d *Definitions) GetByParentContentID(ctx context.Context, parentID int64) ([]models.AwardDefinition, error) {
	snap, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.pick(snap.byParent[parentID]), nil
}

// ParentsByChild maps every child content id in the cached snapshot to the
// parent ids whose awards list it. It never triggers a refresh.
func (d *Definitions) ParentsByChild() map[int64][]int64 {
	snap := d.current.Load()
	if snap == nil {
		return map[int64][]int64{}
	}
	out := make(map[int64][]int64, len(snap.byContent))
	for child, idx := range snap.byContent {
		seen := make(map[int64]struct{}, len(idx))
		for _, i := range idx {
			parent := snap.defs[i].ParentContentID
			if _, dup := seen[parent]; dup {
				continue
			}
			seen[parent] = struct{}{}
			out[child] = append(out[child], parent)
		}
	}
	return out
}

// Len returns the number of cached definitions.
func (d *Definitions) Len() int {
	if snap := d.current.Load(); snap != nil {
		return len(snap.defs)
	}
	return 0
}

// Clear drops the cached snapshot and its persisted copy, so the next read
// fetches again.
func (d *Definitions) Clear() {
	d.current.Store(nil)
	metrics.AwardDefinitions.Set(0)
	if d.db != nil {
		if err := d.db.DeleteMeta(definitionsMetaKey); err != nil && !errors.Is(err, store.ErrNotFound) {
			logging.Warn().Err(err).Msg("Failed to delete persisted award definitions")
		}
	}
}
