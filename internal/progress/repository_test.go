// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/waypoint/internal/eventbus"
	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/store"
)

func newTestRepository(t *testing.T, bus *eventbus.Bus) *Repository {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	repo := NewRepository(db, nil, bus, Options{UserID: 42, Brand: "drumeo"})
	t.Cleanup(func() {
		repo.Close()
		_ = db.Close()
	})
	return repo
}

func intPtr(v int) *int { return &v }

func record(t *testing.T, repo *Repository, contentID int64, percent int, c *models.Collection) *models.ContentProgress {
	t.Helper()
	rec, err := repo.RecordProgress(context.Background(), Input{ContentID: contentID, ProgressPercent: percent, Collection: c})
	if err != nil {
		t.Fatalf("RecordProgress(%d, %d) error = %v", contentID, percent, err)
	}
	return rec
}

func TestRecordProgress_Monotonic(t *testing.T) {
	repo := newTestRepository(t, nil)

	tests := []struct {
		write int
		want  int
	}{
		{write: 10, want: 10},
		{write: 40, want: 40},
		{write: 25, want: 40},
		{write: -5, want: 40},
		{write: 40, want: 40},
		{write: 150, want: 100},
		{write: 60, want: 100},
		{write: -1, want: 100},
		{write: 0, want: 0},
		{write: -5, want: 0},
		{write: 30, want: 30},
	}
	for i, tt := range tests {
		got := record(t, repo, 7, tt.write, nil)
		if got.ProgressPercent != tt.want {
			t.Errorf("step %d: write %d -> %d, want %d", i, tt.write, got.ProgressPercent, tt.want)
		}
		if (got.State() == models.StateCompleted) != (got.ProgressPercent == 100) {
			t.Errorf("step %d: state %s inconsistent with %d%%", i, got.State(), got.ProgressPercent)
		}
	}
}

func TestRecordProgress_CollectionsAreIndependent(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()
	course := &models.Collection{Type: models.CollectionGuidedCourse, ID: 500}

	record(t, repo, 7, 100, course)
	record(t, repo, 7, 20, nil)

	inCourse, err := repo.GetProgress(ctx, 7, course)
	if err != nil {
		t.Fatal(err)
	}
	alone, err := repo.GetProgress(ctx, 7, nil)
	if err != nil {
		t.Fatal(err)
	}
	if inCourse.ProgressPercent != 100 || alone.ProgressPercent != 20 {
		t.Errorf("course=%d standalone=%d, want 100 and 20", inCourse.ProgressPercent, alone.ProgressPercent)
	}
	if inCourse.ID != "7:guided-course:500" || alone.ID != "7:self:0" {
		t.Errorf("ids = %q, %q", inCourse.ID, alone.ID)
	}
	if inCourse.LastInteractedStandalone != nil {
		t.Error("collection writes must not touch last_interacted_standalone")
	}
	if alone.LastInteractedStandalone == nil {
		t.Error("standalone writes should set last_interacted_standalone")
	}
	if alone.ContentBrand != "drumeo" {
		t.Errorf("ContentBrand = %q, want default brand", alone.ContentBrand)
	}
}

func TestRecordProgress_ResumeTime(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()

	if _, err := repo.RecordProgress(ctx, Input{ContentID: 1, ProgressPercent: 10, ResumeTimeSeconds: intPtr(95)}); err != nil {
		t.Fatal(err)
	}
	record(t, repo, 1, 20, nil)

	got, err := repo.GetResumeTime(ctx, 1, nil)
	if err != nil || got != 95 {
		t.Errorf("GetResumeTime() = %d, %v; want 95 kept across writes without resume time", got, err)
	}

	if _, err := repo.RecordProgress(ctx, Input{ContentID: 1, ProgressPercent: 30, ResumeTimeSeconds: intPtr(70000)}); err == nil {
		t.Error("expected resume time above 65535 to be rejected")
	}
	if got, _ := repo.GetResumeTime(ctx, 1, nil); got != 95 {
		t.Errorf("rejected write changed resume time to %d", got)
	}
}

func TestRecordProgress_InvalidCollection(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()

	for name, c := range map[string]*models.Collection{
		"playlist without id": {Type: models.CollectionPlaylist, ID: 0},
		"self with id":        {Type: models.CollectionSelf, ID: 5},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := repo.RecordProgress(ctx, Input{ContentID: 1, ProgressPercent: 10, Collection: c})
			if !errors.Is(err, models.ErrInvalidCollection) {
				t.Errorf("RecordProgress: expected ErrInvalidCollection, got %v", err)
			}
			if _, err := repo.GetProgress(ctx, 1, c); !errors.Is(err, models.ErrInvalidCollection) {
				t.Errorf("GetProgress: expected ErrInvalidCollection, got %v", err)
			}
			if _, err := repo.EraseProgress(ctx, 1, c); !errors.Is(err, models.ErrInvalidCollection) {
				t.Errorf("EraseProgress: expected ErrInvalidCollection, got %v", err)
			}
		})
	}

	rec, err := repo.GetProgress(ctx, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("rejected writes left a standalone record: %+v", rec)
	}
}

func TestRecordProgress_EmitsEvent(t *testing.T) {
	bus := eventbus.New("test-progress")
	defer bus.Close()

	var (
		mu     sync.Mutex
		events []models.ProgressSavedEvent
	)
	if _, err := eventbus.On(bus, eventbus.TopicProgressSaved, func(_ context.Context, e models.ProgressSavedEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	repo := newTestRepository(t, bus)
	course := &models.Collection{Type: models.CollectionLearningPath, ID: 9}
	record(t, repo, 3, 100, course)
	repo.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	e := events[0]
	if e.UserID != 42 || e.ContentID != 3 || e.ProgressPercent != 100 || e.ProgressStatus != models.StateCompleted {
		t.Errorf("unexpected event %+v", e)
	}
	if e.CollectionType != models.CollectionLearningPath || e.CollectionID != 9 {
		t.Errorf("collection = %s/%d", e.CollectionType, e.CollectionID)
	}
}

func TestRecordProgress_SlowListenerDoesNotBlock(t *testing.T) {
	bus := eventbus.New("test-progress-slow")
	defer bus.Close()

	release := make(chan struct{})
	defer close(release)
	if _, err := bus.On(eventbus.TopicProgressSaved, func(context.Context, []byte) { <-release }); err != nil {
		t.Fatal(err)
	}
	repo := newTestRepository(t, bus)

	done := make(chan error, 1)
	go func() {
		_, err := repo.RecordProgress(context.Background(), Input{ContentID: 1, ProgressPercent: 50})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RecordProgress waited on a listener")
	}
}

func TestGetSomeProgressByContentIDsAndCollections(t *testing.T) {
	repo := newTestRepository(t, nil)
	course := models.Collection{Type: models.CollectionGuidedCourse, ID: 10}

	record(t, repo, 1, 100, &course)
	record(t, repo, 2, 50, &course)
	record(t, repo, 1, 30, nil)
	record(t, repo, 3, 100, nil)

	got, err := repo.GetSomeProgressByContentIDsAndCollections(context.Background(), []Key{
		{ContentID: 1, Collection: course},
		{ContentID: 3, Collection: models.Standalone()},
		{ContentID: 3, Collection: course},
		{ContentID: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, rec := range got {
		ids[rec.ID] = true
	}
	if len(got) != 2 || !ids["1:guided-course:10"] || !ids["3:self:0"] {
		t.Errorf("got ids %v, want 1:guided-course:10 and 3:self:0", ids)
	}

	if none, err := repo.GetSomeProgressByContentIDsAndCollections(context.Background(), nil); err != nil || none != nil {
		t.Errorf("empty keys = %v, %v", none, err)
	}
}

func TestStandaloneHelpers(t *testing.T) {
	repo := newTestRepository(t, nil)
	ctx := context.Background()
	course := &models.Collection{Type: models.CollectionGuidedCourse, ID: 10}

	record(t, repo, 1, 40, nil)
	record(t, repo, 2, 100, nil)
	record(t, repo, 3, 100, course)
	record(t, repo, 4, 40, course)
	record(t, repo, 5, 10, nil)
	record(t, repo, 5, 0, nil)

	started, err := repo.StandaloneStartedIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(started) != 1 || started[0] != 1 {
		t.Errorf("StandaloneStartedIDs() = %v, want [1]", started)
	}

	completed, err := repo.StandaloneCompletedIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 || completed[0] != 2 {
		t.Errorf("StandaloneCompletedIDs() = %v, want [2]", completed)
	}

	byID, err := repo.StandaloneProgressByContentIDs(ctx, []int64{1, 3, 4, 99})
	if err != nil {
		t.Fatal(err)
	}
	if len(byID) != 1 || byID[1] == nil || byID[1].ProgressPercent != 40 {
		t.Errorf("StandaloneProgressByContentIDs() = %v", byID)
	}
}

func TestRecentlyInteracted(t *testing.T) {
	repo := newTestRepository(t, nil)
	base := time.Unix(1_700_000_000, 0)
	for i := int64(1); i <= 3; i++ {
		repo.records.SetClock(func() time.Time { return base.Add(time.Duration(i) * time.Minute) })
		record(t, repo, i, 10, nil)
	}

	recent, err := repo.RecentlyInteracted(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ContentID != 3 || recent[1].ContentID != 2 {
		t.Errorf("RecentlyInteracted(2) = %+v", recent)
	}
}

func TestEraseProgress(t *testing.T) {
	bus := eventbus.New("test-progress-erase")
	defer bus.Close()

	var (
		mu       sync.Mutex
		percents []int
	)
	if _, err := eventbus.On(bus, eventbus.TopicProgressSaved, func(_ context.Context, e models.ProgressSavedEvent) {
		mu.Lock()
		percents = append(percents, e.ProgressPercent)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	repo := newTestRepository(t, bus)
	ctx := context.Background()
	record(t, repo, 1, 80, nil)

	existed, err := repo.EraseProgress(ctx, 1, nil)
	if err != nil || !existed {
		t.Fatalf("EraseProgress() = %v, %v", existed, err)
	}
	if rec, _ := repo.GetProgress(ctx, 1, nil); rec != nil {
		t.Errorf("erased record still readable: %+v", rec)
	}
	if existed, _ := repo.EraseProgress(ctx, 1, nil); existed {
		t.Error("second erase should report nothing erased")
	}

	// An erase allows progress to restart below the previous value.
	if got := record(t, repo, 1, 20, nil); got.ProgressPercent != 20 {
		t.Errorf("after erase got %d, want 20", got.ProgressPercent)
	}

	repo.Wait()
	mu.Lock()
	defer mu.Unlock()
	sawReset := false
	for _, p := range percents {
		sawReset = sawReset || p == 0
	}
	if len(percents) != 3 || !sawReset {
		t.Errorf("event percents = %v, want 80, 0 and 20 in any order", percents)
	}
}

func TestMergeProgress(t *testing.T) {
	ts := func(v int64) *int64 { return &v }

	local := &models.ContentProgress{ProgressPercent: 80, ResumeTimeSeconds: intPtr(30), LastInteractedStandalone: ts(200)}
	local.UpdatedAt, local.CreatedAt = 100, 10
	remote := &models.ContentProgress{ProgressPercent: 50}
	remote.UpdatedAt, remote.CreatedAt = 300, 20

	merged := mergeProgress(local, remote)
	if merged.ProgressPercent != 80 {
		t.Errorf("ProgressPercent = %d, want 80 (no regression)", merged.ProgressPercent)
	}
	if merged.ResumeTimeSeconds == nil || *merged.ResumeTimeSeconds != 30 {
		t.Error("missing resume time should be filled from the older record")
	}
	if merged.LastInteractedStandalone == nil || *merged.LastInteractedStandalone != 200 {
		t.Error("latest standalone interaction should be kept")
	}
	if merged.CreatedAt != 10 || merged.UpdatedAt != 300 {
		t.Errorf("timestamps = %d/%d, want 10/300", merged.CreatedAt, merged.UpdatedAt)
	}

	reset := &models.ContentProgress{ProgressPercent: 0}
	reset.UpdatedAt = 400
	if got := mergeProgress(local, reset); got.ProgressPercent != 0 {
		t.Errorf("newer explicit reset should win, got %d", got.ProgressPercent)
	}
}
