// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package progress records content consumption progress on the device.
//
// Writes go through the sync repository, so they are durable locally before
// any network call. After a write commits, a progress-saved event is emitted
// on the progress bus from a background goroutine; the caller never waits
// for listeners and never sees their failures.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/waypoint/internal/eventbus"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/remote"
	"github.com/tomtom215/waypoint/internal/store"
	"github.com/tomtom215/waypoint/internal/syncrepo"
	"github.com/tomtom215/waypoint/internal/validation"
)

// Entity is the collection and remote entity name for progress records.
const Entity = "content_progress"

// Input is one progress write.
type Input struct {
	ContentID       int64 `json:"content_id" validate:"gte=0"`
	ProgressPercent int   `json:"progress_percent"`
	// ResumeTimeSeconds is left untouched when nil.
	ResumeTimeSeconds *int               `json:"resume_time_seconds,omitempty" validate:"omitempty,min=0,max=65535"`
	Collection        *models.Collection `json:"collection,omitempty"`
	ContentBrand      string             `json:"content_brand,omitempty"`
}

// Key addresses one progress record.
type Key struct {
	ContentID  int64             `json:"content_id"`
	Collection models.Collection `json:"collection"`
}

// Options configures a Repository.
type Options struct {
	UserID int64
	// Brand is recorded when an Input carries none.
	Brand string
	// PushOnWrite pushes each write in the background right after it commits.
	PushOnWrite bool
	BatchSize   int
}

// Repository is the content progress store.
type Repository struct {
	records *syncrepo.Repository[models.ContentProgress, *models.ContentProgress]
	bus     *eventbus.Bus
	opts    Options
	now     func() time.Time

	pending sync.WaitGroup
}

// NewRepository creates the progress repository. bus may be nil, in which
// case no events are emitted.
func NewRepository(db *store.DB, endpoint remote.SyncEndpoint, bus *eventbus.Bus, opts Options) *Repository {
	return &Repository{
		records: syncrepo.New[models.ContentProgress, *models.ContentProgress](db, endpoint,
			syncrepo.Config[models.ContentProgress, *models.ContentProgress]{
				Entity:    Entity,
				Merge:     mergeProgress,
				BatchSize: opts.BatchSize,
			}),
		bus:  bus,
		opts: opts,
		now:  time.Now,
	}
}

// Syncer exposes the underlying repository to the sync loop.
func (r *Repository) Syncer() *syncrepo.Repository[models.ContentProgress, *models.ContentProgress] {
	return r.records
}

// Close waits for in-flight event emissions and pushes, then stops
// background pulls.
func (r *Repository) Close() {
	r.pending.Wait()
	r.records.Close()
}

// Wait blocks until every background emission and push started so far has
// finished.
func (r *Repository) Wait() {
	r.pending.Wait()
}

// RecordProgress clamps and merges in.ProgressPercent into the record for
// (content, collection) and returns the stored record.
func (r *Repository) RecordProgress(ctx context.Context, in Input) (*models.ContentProgress, error) {
	if err := validation.Validate(&in); err != nil {
		return nil, err
	}
	collection := models.ResolveCollection(in.Collection)
	if err := collection.Validate(); err != nil {
		return nil, err
	}
	id := models.ProgressID(in.ContentID, collection)
	now := r.now()

	outcome := "kept"
	rec, err := r.records.Upsert(ctx, id, func(p *models.ContentProgress, isNew bool) error {
		previous := p.ProgressPercent
		if isNew {
			p.ContentID = in.ContentID
			p.CollectionType = collection.Type
			p.CollectionID = collection.ID
			previous = 0
		}

		p.ProgressPercent = models.MergePercent(previous, in.ProgressPercent)
		switch {
		case isNew || p.ProgressPercent > previous:
			outcome = "advanced"
		case p.ProgressPercent == 0 && previous > 0:
			outcome = "reset"
		}

		if in.ResumeTimeSeconds != nil {
			resume := *in.ResumeTimeSeconds
			p.ResumeTimeSeconds = &resume
		}
		if collection.IsStandalone() {
			ts := now.Unix()
			p.LastInteractedStandalone = &ts
		}
		switch {
		case in.ContentBrand != "":
			p.ContentBrand = in.ContentBrand
		case p.ContentBrand == "":
			p.ContentBrand = r.opts.Brand
		}
		return nil
	})
	if err != nil {
		metrics.ProgressWrites.WithLabelValues(string(collection.Type), "error").Inc()
		return nil, fmt.Errorf("record progress for content %d: %w", in.ContentID, err)
	}
	metrics.ProgressWrites.WithLabelValues(string(collection.Type), outcome).Inc()

	logging.Ctx(ctx).Debug().
		Int64("content_id", rec.ContentID).
		Str("collection", collection.String()).
		Int("progress_percent", rec.ProgressPercent).
		Str("outcome", outcome).
		Msg("Progress recorded")

	r.afterWrite(ctx, rec, &models.ProgressSavedEvent{
		UserID:            r.opts.UserID,
		ContentID:         rec.ContentID,
		ProgressPercent:   rec.ProgressPercent,
		ProgressStatus:    rec.State(),
		CollectionType:    rec.CollectionType,
		CollectionID:      rec.CollectionID,
		ResumeTimeSeconds: rec.ResumeTimeSeconds,
		Timestamp:         now.UTC(),
	})
	return rec, nil
}

// afterWrite emits event (when non-nil) and optionally pushes rec. Both run
// detached from the caller's cancellation but keep its correlation id.
func (r *Repository) afterWrite(ctx context.Context, rec *models.ContentProgress, event *models.ProgressSavedEvent) {
	bg := context.WithoutCancel(ctx)
	if event != nil && r.bus != nil {
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			if err := eventbus.Emit(bg, r.bus, eventbus.TopicProgressSaved, *event); err != nil {
				logging.Ctx(bg).Warn().Err(err).Int64("content_id", event.ContentID).Msg("Failed to emit progress event")
			}
		}()
	}
	if r.opts.PushOnWrite {
		snapshot := *rec
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			r.pushEagerly(bg, &snapshot)
		}()
	}
}

func (r *Repository) pushEagerly(ctx context.Context, rec *models.ContentProgress) {
	outcome, err := r.records.PushOneEagerly(ctx, rec)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("id", rec.ID).Msg("Eager progress push failed, left for sync loop")
		return
	}
	if outcome.Status == syncrepo.PushFailed {
		logging.Ctx(ctx).Warn().Str("id", rec.ID).Str("error", outcome.Error).Msg("Progress push rejected")
	}
}

// GetSomeProgressByContentIDsAndCollections returns the records that exist
// for keys, in one local query.
func (r *Repository) GetSomeProgressByContentIDsAndCollections(ctx context.Context, keys []Key) ([]*models.ContentProgress, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	preds := make([]store.Predicate, len(keys))
	for i, k := range keys {
		c := models.ResolveCollection(&k.Collection)
		preds[i] = store.And(
			store.Where("content_id", k.ContentID),
			store.Where("collection_type", string(c.Type)),
			store.Where("collection_id", c.ID),
		)
	}
	res, err := r.records.ReadAll(ctx, store.Or(preds...))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

var standalone = store.And(
	store.Where("collection_type", string(models.CollectionSelf)),
	store.Where("collection_id", 0),
)

// StandaloneStartedIDs returns content ids with standalone progress between
// 1 and 99 percent.
func (r *Repository) StandaloneStartedIDs(ctx context.Context) ([]int64, error) {
	return r.standaloneIDs(ctx, store.And(
		store.Where("progress_percent", store.Gt(0)),
		store.Where("progress_percent", store.Lt(100)),
	))
}

// StandaloneCompletedIDs returns content ids completed outside any collection.
func (r *Repository) StandaloneCompletedIDs(ctx context.Context) ([]int64, error) {
	return r.standaloneIDs(ctx, store.Where("progress_percent", 100))
}

func (r *Repository) standaloneIDs(ctx context.Context, pred store.Predicate) ([]int64, error) {
	recs, err := r.records.Query(standalone, pred).SortBy("updated_at", store.Desc).Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("query standalone progress: %w", err)
	}
	ids := make([]int64, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ContentID
	}
	return ids, nil
}

// StandaloneProgressByContentIDs returns standalone progress keyed by content
// id. Content without a record is absent from the map.
func (r *Repository) StandaloneProgressByContentIDs(ctx context.Context, contentIDs []int64) (map[int64]*models.ContentProgress, error) {
	out := make(map[int64]*models.ContentProgress, len(contentIDs))
	if len(contentIDs) == 0 {
		return out, nil
	}
	recs, err := r.records.Query(standalone, store.Where("content_id", store.OneOf(contentIDs...))).Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("query standalone progress: %w", err)
	}
	for _, rec := range recs {
		out[rec.ContentID] = rec
	}
	return out, nil
}

// GetProgress returns the record for (contentID, collection) or nil.
func (r *Repository) GetProgress(ctx context.Context, contentID int64, collection *models.Collection) (*models.ContentProgress, error) {
	c := models.ResolveCollection(collection)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	res, err := r.records.ReadOne(ctx, models.ProgressID(contentID, c))
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// GetResumeTime returns the stored resume position in seconds, or 0.
func (r *Repository) GetResumeTime(ctx context.Context, contentID int64, collection *models.Collection) (int, error) {
	rec, err := r.GetProgress(ctx, contentID, collection)
	if err != nil || rec == nil || rec.ResumeTimeSeconds == nil {
		return 0, err
	}
	return *rec.ResumeTimeSeconds, nil
}

// RecentlyInteracted returns up to limit records, most recently updated first.
func (r *Repository) RecentlyInteracted(ctx context.Context, limit int) ([]*models.ContentProgress, error) {
	q := r.records.Query().SortBy("updated_at", store.Desc)
	if limit > 0 {
		q = q.Take(limit)
	}
	recs, err := q.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("query recent progress: %w", err)
	}
	return recs, nil
}

// EraseProgress deletes the record for (contentID, collection). It reports
// whether a record existed. A progress-saved event with 0 percent is emitted
// so award progress is re-evaluated.
func (r *Repository) EraseProgress(ctx context.Context, contentID int64, collection *models.Collection) (bool, error) {
	c := models.ResolveCollection(collection)
	if err := c.Validate(); err != nil {
		return false, err
	}
	rec, err := r.records.Delete(ctx, models.ProgressID(contentID, c))
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	metrics.ProgressWrites.WithLabelValues(string(c.Type), "erased").Inc()
	logging.Ctx(ctx).Info().Int64("content_id", contentID).Str("collection", c.String()).Msg("Progress erased")

	r.afterWrite(ctx, rec, &models.ProgressSavedEvent{
		UserID:          r.opts.UserID,
		ContentID:       contentID,
		ProgressPercent: 0,
		ProgressStatus:  models.StateFor(0),
		CollectionType:  c.Type,
		CollectionID:    c.ID,
		Timestamp:       r.now().UTC(),
	})
	return true, nil
}

// mergeProgress reconciles a pulled record with the local one: the newer
// record wins, except that progress never regresses unless the newer side
// is an explicit reset to 0.
func mergeProgress(local, remote *models.ContentProgress) *models.ContentProgress {
	older, newer := local, remote
	if local.UpdatedAt > remote.UpdatedAt {
		older, newer = remote, local
	}

	merged := *newer
	merged.ProgressPercent = models.MergePercent(older.ProgressPercent, newer.ProgressPercent)
	if merged.ResumeTimeSeconds == nil {
		merged.ResumeTimeSeconds = older.ResumeTimeSeconds
	}
	if older.LastInteractedStandalone != nil &&
		(merged.LastInteractedStandalone == nil || *older.LastInteractedStandalone > *merged.LastInteractedStandalone) {
		merged.LastInteractedStandalone = older.LastInteractedStandalone
	}
	if older.CreatedAt != 0 && (merged.CreatedAt == 0 || older.CreatedAt < merged.CreatedAt) {
		merged.CreatedAt = older.CreatedAt
	}
	if merged.ContentBrand == "" {
		merged.ContentBrand = older.ContentBrand
	}
	return &merged
}
