// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package awards evaluates award eligibility from local content progress.
//
// A Definitions cache holds the CMS-authored award definitions. The
// Observer listens for progress-saved events, debounces them per parent
// content id and asks the Manager to evaluate every award of that parent.
// The Manager reads child completion in one batched local query, records
// partial progress or grants the award, and emits award events.
package awards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/waypoint/internal/eventbus"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/progress"
	"github.com/tomtom215/waypoint/internal/remote"
	"github.com/tomtom215/waypoint/internal/store"
	"github.com/tomtom215/waypoint/internal/syncrepo"
)

// Entity is the collection and remote entity name for user award progress.
const Entity = "user_award_progress"

// errCompleted aborts an upsert that would modify a granted award.
var errCompleted = errors.New("award already completed")

// errUnchanged aborts an upsert whose result would equal the stored record,
// so a synced record stays synced.
var errUnchanged = errors.New("award progress unchanged")

// Outcome is the result of evaluating one award.
type Outcome string

const (
	OutcomeSkipped          Outcome = "skipped"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeProgress         Outcome = "progress"
	OutcomeGranted          Outcome = "granted"
	OutcomeFailed           Outcome = "failed"
)

// Evaluation reports what EvaluateAward did.
type Evaluation struct {
	AwardID            string  `json:"award_id"`
	Outcome            Outcome `json:"outcome"`
	ProgressPercentage int     `json:"progress_percentage"`
	Error              string  `json:"error,omitempty"`
}

// ProgressReader is the batched completion lookup the manager needs.
// *progress.Repository satisfies it.
type ProgressReader interface {
	GetSomeProgressByContentIDsAndCollections(ctx context.Context, keys []progress.Key) ([]*models.ContentProgress, error)
}

// DurationSource resolves content lengths in seconds.
// *remote.CMSClient satisfies it.
type DurationSource interface {
	FetchContentDurations(ctx context.Context, ids []int64) (map[int64]int, error)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	BatchSize int
}

// Manager evaluates awards and owns the user award progress records.
type Manager struct {
	records   *syncrepo.Repository[models.UserAwardProgress, *models.UserAwardProgress]
	defs      *Definitions
	progress  ProgressReader
	durations DurationSource
	bus       *eventbus.Bus
	now       func() time.Time
}

// NewManager creates a Manager. durations and bus may be nil.
func NewManager(db *store.DB, endpoint remote.SyncEndpoint, defs *Definitions, reader ProgressReader,
	durations DurationSource, bus *eventbus.Bus, opts ManagerOptions) *Manager {
	return &Manager{
		records: syncrepo.New[models.UserAwardProgress, *models.UserAwardProgress](db, endpoint,
			syncrepo.Config[models.UserAwardProgress, *models.UserAwardProgress]{
				Entity:    Entity,
				Merge:     mergeAwardProgress,
				BatchSize: opts.BatchSize,
			}),
		defs:      defs,
		progress:  reader,
		durations: durations,
		bus:       bus,
		now:       time.Now,
	}
}

// Syncer exposes the award progress repository to the sync loop.
func (m *Manager) Syncer() *syncrepo.Repository[models.UserAwardProgress, *models.UserAwardProgress] {
	return m.records
}

// Definitions returns the definitions cache the manager evaluates against.
func (m *Manager) Definitions() *Definitions {
	return m.defs
}

// Close stops background pulls of award progress.
func (m *Manager) Close() {
	m.records.Close()
}

// EvaluateAwardsForParent evaluates every award attached to parentID.
func (m *Manager) EvaluateAwardsForParent(ctx context.Context, parentID int64) []Evaluation {
	defs, err := m.defs.GetByParentContentID(ctx, parentID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("parent_content_id", parentID).Msg("Cannot evaluate awards without definitions")
		return nil
	}
	out := make([]Evaluation, 0, len(defs))
	for i := range defs {
		out = append(out, m.EvaluateAward(ctx, &defs[i]))
	}
	return out
}

// EvaluateAward decides whether def is granted, records the outcome and
// emits the matching event. Failures are logged and reported in the
// returned Evaluation, never returned as errors.
func (m *Manager) EvaluateAward(ctx context.Context, def *models.AwardDefinition) (eval Evaluation) {
	start := time.Now()
	defer func() {
		metrics.RecordAwardEvaluation(string(eval.Outcome), time.Since(start))
	}()

	if def == nil {
		logging.Ctx(ctx).Warn().Msg("Award evaluation skipped: missing definition")
		return Evaluation{Outcome: OutcomeSkipped}
	}
	log := logging.Ctx(ctx).With().Str("award_id", def.ID).Int64("parent_content_id", def.ParentContentID).Logger()
	eval = Evaluation{AwardID: def.ID}
	fail := func(err error, msg string) Evaluation {
		log.Error().Err(err).Msg(msg)
		eval.Outcome = OutcomeFailed
		eval.Error = err.Error()
		return eval
	}

	completed, err := m.HasCompletedAward(ctx, def.ID)
	if err != nil {
		return fail(err, "Failed to read award progress")
	}
	if completed {
		eval.Outcome = OutcomeAlreadyCompleted
		eval.ProgressPercentage = 100
		return eval
	}

	eligible := def.EligibleChildIDs()
	if len(eligible) == 0 {
		log.Warn().Msg("Award has no eligible children")
		eval.Outcome = OutcomeSkipped
		return eval
	}

	done, err := m.completedChildren(ctx, def, eligible)
	if err != nil {
		return fail(err, "Failed to read child progress")
	}

	data := &models.ProgressData{
		CompletedContentIDs: make([]int64, 0, len(done)),
		CompletedCount:      0,
		TotalCount:          len(eligible),
	}
	for _, id := range eligible {
		if _, ok := done[id]; ok {
			data.CompletedContentIDs = append(data.CompletedContentIDs, id)
		}
	}
	data.CompletedCount = len(data.CompletedContentIDs)
	percent := int(math.Round(float64(data.CompletedCount) / float64(data.TotalCount) * 100))

	if percent >= 100 {
		return m.grant(ctx, def, data, done, eval)
	}
	return m.recordProgress(ctx, def, data, percent, eval)
}

// completedChildren returns the completed progress records of eligible
// children, keyed by content id, from one batched read.
func (m *Manager) completedChildren(ctx context.Context, def *models.AwardDefinition, eligible []int64) (map[int64]*models.ContentProgress, error) {
	collection := def.ChildCollection()
	keys := make([]progress.Key, len(eligible))
	for i, id := range eligible {
		keys[i] = progress.Key{ContentID: id, Collection: collection}
	}
	recs, err := m.progress.GetSomeProgressByContentIDsAndCollections(ctx, keys)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]*models.ContentProgress, len(recs))
	for _, rec := range recs {
		if rec.IsCompleted() {
			done[rec.ContentID] = rec
		}
	}
	return done, nil
}

func (m *Manager) recordProgress(ctx context.Context, def *models.AwardDefinition, data *models.ProgressData, percent int, eval Evaluation) Evaluation {
	log := logging.Ctx(ctx).With().Str("award_id", def.ID).Logger()
	eval.ProgressPercentage = percent

	rec, err := m.records.Upsert(ctx, def.ID, func(p *models.UserAwardProgress, isNew bool) error {
		if p.IsCompleted() {
			return errCompleted
		}
		if !isNew && p.ProgressPercentage == percent && sameProgressData(p.ProgressData, data) {
			return errUnchanged
		}
		p.AwardID = def.ID
		p.ProgressPercentage = percent
		p.CompletedAt = nil
		p.ProgressData = data
		return nil
	})
	switch {
	case errors.Is(err, errCompleted):
		eval.Outcome = OutcomeAlreadyCompleted
		eval.ProgressPercentage = 100
		return eval
	case errors.Is(err, errUnchanged):
		eval.Outcome = OutcomeProgress
		return eval
	case err != nil:
		log.Error().Err(err).Msg("Failed to record award progress")
		eval.Outcome = OutcomeFailed
		eval.Error = err.Error()
		return eval
	}

	eval.Outcome = OutcomeProgress
	m.push(ctx, rec)
	m.emit(ctx, eventbus.TopicAwardProgress, models.AwardProgressEvent{
		AwardID:            def.ID,
		ProgressPercentage: percent,
		Timestamp:          m.now().UTC(),
	})
	log.Info().Int("progress_percentage", percent).Int("completed", data.CompletedCount).Int("total", data.TotalCount).Msg("Award progress recorded")
	return eval
}

func (m *Manager) grant(ctx context.Context, def *models.AwardDefinition, data *models.ProgressData,
	done map[int64]*models.ContentProgress, eval Evaluation) Evaluation {
	log := logging.Ctx(ctx).With().Str("award_id", def.ID).Logger()
	now := m.now()
	completion := m.completionData(ctx, def, data.CompletedContentIDs, done, now)

	rec, err := m.records.Upsert(ctx, def.ID, func(p *models.UserAwardProgress, _ bool) error {
		if p.IsCompleted() {
			return errCompleted
		}
		completedAt := now.Unix()
		p.AwardID = def.ID
		p.ProgressPercentage = 100
		p.CompletedAt = &completedAt
		p.ProgressData = data
		p.CompletionData = &completion
		return nil
	})
	switch {
	case errors.Is(err, errCompleted):
		eval.Outcome = OutcomeAlreadyCompleted
		eval.ProgressPercentage = 100
		return eval
	case err != nil:
		log.Error().Err(err).Msg("Failed to record award grant")
		eval.Outcome = OutcomeFailed
		eval.Error = err.Error()
		return eval
	}

	m.push(ctx, rec)
	m.emit(ctx, eventbus.TopicAwardGranted, models.AwardGrantedEvent{
		AwardID:        def.ID,
		Definition:     *def,
		CompletionData: completion,
		PopupMessage:   PopupMessage(def, completion),
		Timestamp:      now.UTC(),
	})
	log.Info().
		Int("days_practiced", completion.DaysUserPracticed).
		Int("practice_minutes", completion.PracticeMinutes).
		Msg("Award granted")

	eval.Outcome = OutcomeGranted
	eval.ProgressPercentage = 100
	return eval
}

// completionData counts distinct UTC days on which completed children were
// last touched and sums their durations. A failed duration lookup only
// zeroes the minutes.
func (m *Manager) completionData(ctx context.Context, def *models.AwardDefinition, ids []int64,
	done map[int64]*models.ContentProgress, now time.Time) models.CompletionData {
	days := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		rec := done[id]
		ts := rec.UpdatedAt
		if ts == 0 {
			ts = rec.CreatedAt
		}
		days[time.Unix(ts, 0).UTC().Format(time.DateOnly)] = struct{}{}
	}

	minutes := 0
	if m.durations != nil && len(ids) > 0 {
		lengths, err := m.durations.FetchContentDurations(ctx, ids)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("award_id", def.ID).Msg("Content durations unavailable, practice minutes set to 0")
		} else {
			seconds := 0
			for _, id := range ids {
				seconds += lengths[id]
			}
			minutes = int(math.Round(float64(seconds) / 60))
		}
	}

	return models.CompletionData{
		DaysUserPracticed: len(days),
		PracticeMinutes:   minutes,
		ContentTitle:      def.Title,
		CompletedAt:       now.UTC().Format(time.RFC3339),
	}
}

// PopupMessage is the text shown when an award is granted.
func PopupMessage(def *models.AwardDefinition, data models.CompletionData) string {
	if def.CustomText != "" {
		return def.CustomText
	}
	dayWord := "days"
	if data.DaysUserPracticed == 1 {
		dayWord = "day"
	}
	return fmt.Sprintf("Congratulations! You completed %s, practicing %d minutes over %d %s.",
		def.Title, data.PracticeMinutes, data.DaysUserPracticed, dayWord)
}

func (m *Manager) push(ctx context.Context, rec *models.UserAwardProgress) {
	outcome, err := m.records.PushOneEagerly(ctx, rec)
	if err != nil {
		logging.Ctx(ctx).Debug().Err(err).Str("award_id", rec.AwardID).Msg("Award push deferred to sync loop")
		return
	}
	if outcome.Status == syncrepo.PushFailed {
		logging.Ctx(ctx).Warn().Str("award_id", rec.AwardID).Str("error", outcome.Error).Msg("Award push rejected")
	}
}

func (m *Manager) emit(ctx context.Context, topic string, event interface{}) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Emit(ctx, topic, event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("Failed to emit award event")
	}
}

// HasCompletedAward reports whether awardID has been granted.
func (m *Manager) HasCompletedAward(ctx context.Context, awardID string) (bool, error) {
	p, err := m.GetAwardProgress(ctx, awardID)
	if err != nil {
		return false, err
	}
	return p != nil && p.IsCompleted(), nil
}

// GetAwardProgress returns the user's record for awardID, or nil.
func (m *Manager) GetAwardProgress(ctx context.Context, awardID string) (*models.UserAwardProgress, error) {
	res, err := m.records.ReadOne(ctx, awardID)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// ListAwardProgress returns every award record, most recently updated first.
func (m *Manager) ListAwardProgress(ctx context.Context) ([]*models.UserAwardProgress, error) {
	recs, err := m.records.Query().SortBy("updated_at", store.Desc).Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("list award progress: %w", err)
	}
	return recs, nil
}

// ResetAward erases the user's record for awardID, granted or not. It
// reports whether a record existed.
func (m *Manager) ResetAward(ctx context.Context, awardID string) (bool, error) {
	rec, err := m.records.Delete(ctx, awardID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	logging.Ctx(ctx).Info().Str("award_id", awardID).Msg("Award progress reset")
	m.push(ctx, rec)
	return true, nil
}

func sameProgressData(a, b *models.ProgressData) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.CompletedCount != b.CompletedCount || a.TotalCount != b.TotalCount ||
		len(a.CompletedContentIDs) != len(b.CompletedContentIDs) {
		return false
	}
	for i := range a.CompletedContentIDs {
		if a.CompletedContentIDs[i] != b.CompletedContentIDs[i] {
			return false
		}
	}
	return true
}

// mergeAwardProgress keeps a granted record over an ungranted one, and
// otherwise the newer record.
func mergeAwardProgress(local, remote *models.UserAwardProgress) *models.UserAwardProgress {
	switch {
	case local.IsCompleted() && !remote.IsCompleted():
		return local
	case remote.IsCompleted() && !local.IsCompleted():
		return remote
	case local.IsCompleted():
		if *remote.CompletedAt < *local.CompletedAt {
			return remote
		}
		return local
	case remote.UpdatedAt > local.UpdatedAt:
		return remote
	default:
		return local
	}
}
