// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package syncrepo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/remote"
	"github.com/tomtom215/waypoint/internal/store"
)

type note struct {
	models.SyncMeta
	Text  string `json:"text"`
	Score int    `json:"score"`
}

func (n *note) Validate() error {
	if n.Score < 0 || n.Score > 100 {
		return fmt.Errorf("score %d out of range", n.Score)
	}
	return nil
}

type fakeEndpoint struct {
	mu sync.Mutex

	pushErr   error
	unacked   bool
	failIDs   map[string]string
	canonical func(id string, raw json.RawMessage) json.RawMessage
	onPush    func()
	pushed    [][]json.RawMessage

	pullErr     error
	pullRecords []json.RawMessage
	token       string
	sinces      []string
}

func (f *fakeEndpoint) PushRecords(_ context.Context, _ string, records []json.RawMessage) (*remote.PushResponse, error) {
	f.mu.Lock()
	f.pushed = append(f.pushed, records)
	onPush := f.onPush
	f.mu.Unlock()

	if onPush != nil {
		onPush()
	}
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	if f.unacked {
		return &remote.PushResponse{Acknowledged: false}, nil
	}

	resp := &remote.PushResponse{Acknowledged: true}
	for _, raw := range records {
		var m models.SyncMeta
		_ = json.Unmarshal(raw, &m)
		if msg, ok := f.failIDs[m.ID]; ok {
			resp.Results = append(resp.Results, remote.PushResult{Type: remote.PushFailure, ID: m.ID, Error: msg})
			continue
		}
		entry := raw
		if f.canonical != nil {
			entry = f.canonical(m.ID, raw)
		}
		resp.Results = append(resp.Results, remote.PushResult{Type: remote.PushSuccess, ID: m.ID, Entry: entry})
	}
	return resp, nil
}

func (f *fakeEndpoint) PullRecords(_ context.Context, _ string, since string) (*remote.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinces = append(f.sinces, since)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return &remote.PullResponse{Success: true, Token: f.token, Records: f.pullRecords}, nil
}

func (f *fakeEndpoint) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinces)
}

func newTestRepo(t *testing.T, ep remote.SyncEndpoint, merge func(local, remote *note) *note) (*Repository[note, *note], *store.DB) {
	t.Helper()
	db, err := store.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	repo := New[note, *note](db, ep, Config[note, *note]{Entity: "notes", Merge: merge, BatchSize: 2})
	t.Cleanup(func() {
		repo.Close()
		_ = db.Close()
	})
	return repo, db
}

func setText(text string) func(*note, bool) error {
	return func(n *note, _ bool) error {
		n.Text = text
		return nil
	}
}

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestUpsert_ReadYourWrites(t *testing.T) {
	ep := &fakeEndpoint{pushErr: errors.New("offline")}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	var sawNew []bool
	for _, text := range []string{"first", "second"} {
		_, err := repo.Upsert(ctx, "n1", func(n *note, isNew bool) error {
			sawNew = append(sawNew, isNew)
			n.Text = text
			return nil
		})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	if len(sawNew) != 2 || !sawNew[0] || sawNew[1] {
		t.Errorf("isNew sequence = %v, want [true false]", sawNew)
	}

	res, err := repo.ReadOne(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Data == nil || res.Data.Text != "second" {
		t.Fatalf("ReadOne() = %+v, want text=second", res.Data)
	}
	if res.Status != StatusStale {
		t.Errorf("Status = %s, want stale", res.Status)
	}
	if res.Data.Status != models.SyncStatusUnsynced || res.Data.ID != "n1" || res.Data.CreatedAt == 0 {
		t.Errorf("unexpected sync meta %+v", res.Data.SyncMeta)
	}
}

func TestUpsert_ErrorsAbortWrite(t *testing.T) {
	repo, _ := newTestRepo(t, nil, nil)
	ctx := context.Background()

	boom := errors.New("boom")
	if _, err := repo.Upsert(ctx, "n1", func(*note, bool) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected mutator error, got %v", err)
	}
	if _, err := repo.Upsert(ctx, "n1", func(n *note, _ bool) error { n.Score = 101; return nil }); err == nil {
		t.Error("expected validation error")
	}

	res, err := repo.ReadOne(ctx, "n1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Data != nil {
		t.Errorf("failed upserts must not write, got %+v", res.Data)
	}
}

func TestPushOneEagerly_Success(t *testing.T) {
	ep := &fakeEndpoint{
		canonical: func(id string, _ json.RawMessage) json.RawMessage {
			return json.RawMessage(fmt.Sprintf(`{"id":%q,"text":"server","score":7}`, id))
		},
	}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	rec, err := repo.Upsert(ctx, "n1", setText("local"))
	if err != nil {
		t.Fatal(err)
	}
	out, err := repo.PushOneEagerly(ctx, rec)
	if err != nil {
		t.Fatalf("PushOneEagerly() error = %v", err)
	}
	if out.Status != PushSynced {
		t.Fatalf("Status = %s, want synced", out.Status)
	}

	res, _ := repo.ReadOne(ctx, "n1")
	if res.Data.Text != "server" || res.Data.Status != models.SyncStatusSynced {
		t.Errorf("canonical record not applied: %+v", res.Data)
	}
	if res.Data.CreatedAt == 0 {
		t.Error("local timestamps should fill gaps in the canonical record")
	}
}

func TestPushOneEagerly_ExplicitFailureKeepsRecord(t *testing.T) {
	ep := &fakeEndpoint{failIDs: map[string]string{"n1": "conflict"}}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	rec, _ := repo.Upsert(ctx, "n1", setText("local"))
	out, err := repo.PushOneEagerly(ctx, rec)
	if err != nil {
		t.Fatalf("explicit failure should not be an error, got %v", err)
	}
	if out.Status != PushFailed || out.Error != "conflict" {
		t.Errorf("outcome = %+v", out)
	}

	res, _ := repo.ReadOne(ctx, "n1")
	if res.Data == nil || res.Data.Text != "local" {
		t.Fatal("local write must survive a push failure")
	}
	if res.Data.Status != models.SyncStatusUnsynced || res.Data.LastPushError != "conflict" {
		t.Errorf("sync meta = %+v", res.Data.SyncMeta)
	}
}

func TestPushOneEagerly_TransportFailure(t *testing.T) {
	for name, ep := range map[string]*fakeEndpoint{
		"network": {pushErr: remote.ErrUnavailable},
		"unacked": {unacked: true},
	} {
		t.Run(name, func(t *testing.T) {
			repo, _ := newTestRepo(t, ep, nil)
			ctx := context.Background()

			rec, _ := repo.Upsert(ctx, "n1", setText("local"))
			if _, err := repo.PushOneEagerly(ctx, rec); !errors.Is(err, ErrTransport) {
				t.Fatalf("expected ErrTransport, got %v", err)
			}
			res, _ := repo.ReadOne(ctx, "n1")
			if res.Data == nil || res.Data.Status != models.SyncStatusUnsynced {
				t.Errorf("local record should be intact and unsynced: %+v", res.Data)
			}
		})
	}
}

func TestPushOneEagerly_SupersededByLocalWrite(t *testing.T) {
	ep := &fakeEndpoint{}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	rec, _ := repo.Upsert(ctx, "n1", setText("v1"))
	ep.onPush = func() {
		if _, err := repo.Upsert(ctx, "n1", setText("v2")); err != nil {
			t.Error(err)
		}
	}

	out, err := repo.PushOneEagerly(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != PushSuperseded {
		t.Errorf("Status = %s, want superseded", out.Status)
	}
	res, _ := repo.ReadOne(ctx, "n1")
	if res.Data.Text != "v2" || res.Data.Status != models.SyncStatusUnsynced {
		t.Errorf("newer local write lost: %+v", res.Data)
	}
}

func TestFetchOne_FailureServesLocal(t *testing.T) {
	ep := &fakeEndpoint{pullErr: remote.ErrUnavailable}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, "n1", setText("local")); err != nil {
		t.Fatal(err)
	}
	res, err := repo.FetchOne(ctx, "n1")
	if err != nil {
		t.Fatalf("FetchOne() error = %v", err)
	}
	if res.Status != StatusStale || res.PullStatus != PullFailure {
		t.Errorf("status = %s/%s, want stale/failure", res.Status, res.PullStatus)
	}
	if res.Data == nil || res.Data.Text != "local" {
		t.Error("local data should still be returned")
	}
}

func TestFetchAll_MergesAndStoresToken(t *testing.T) {
	ep := &fakeEndpoint{token: "tok-1"}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	ep.pullRecords = []json.RawMessage{
		mustRaw(t, note{SyncMeta: models.SyncMeta{ID: "r1"}, Text: "remote"}),
	}

	res, err := repo.FetchAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFresh || res.PullStatus != PullSuccess || res.FetchToken != "tok-1" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Data) != 1 || res.Data[0].Status != models.SyncStatusSynced {
		t.Fatalf("pulled record not stored as synced: %+v", res.Data)
	}

	ep.token = "tok-2"
	if _, err := repo.Pull(ctx); err != nil {
		t.Fatal(err)
	}
	if ep.sinces[1] != "tok-1" {
		t.Errorf("second pull sent since=%q, want tok-1", ep.sinces[1])
	}
	if repo.FetchToken() != "tok-2" {
		t.Errorf("FetchToken() = %q, want tok-2", repo.FetchToken())
	}
}

func TestPull_MergeRules(t *testing.T) {
	ep := &fakeEndpoint{}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	// "pending" has unsynced local changes, "clean" is synced, "gone" is synced and deleted remotely.
	if _, err := repo.Upsert(ctx, "pending", setText("local")); err != nil {
		t.Fatal(err)
	}
	ep.pullRecords = []json.RawMessage{
		mustRaw(t, note{SyncMeta: models.SyncMeta{ID: "clean"}, Text: "v1"}),
		mustRaw(t, note{SyncMeta: models.SyncMeta{ID: "gone"}, Text: "v1"}),
	}
	if _, err := repo.Pull(ctx); err != nil {
		t.Fatal(err)
	}

	ep.pullRecords = []json.RawMessage{
		mustRaw(t, note{SyncMeta: models.SyncMeta{ID: "pending"}, Text: "remote"}),
		mustRaw(t, note{SyncMeta: models.SyncMeta{ID: "clean"}, Text: "v2"}),
		mustRaw(t, note{SyncMeta: models.SyncMeta{ID: "gone", Status: models.SyncStatusDeleted}}),
	}
	if _, err := repo.Pull(ctx); err != nil {
		t.Fatal(err)
	}

	if res, _ := repo.ReadOne(ctx, "pending"); res.Data.Text != "local" || res.Data.Status != models.SyncStatusUnsynced {
		t.Errorf("unsynced local should win: %+v", res.Data)
	}
	if res, _ := repo.ReadOne(ctx, "clean"); res.Data.Text != "v2" {
		t.Errorf("synced record should take remote value: %+v", res.Data)
	}
	if res, _ := repo.ReadOne(ctx, "gone"); res.Data != nil {
		t.Errorf("remote tombstone should delete synced record: %+v", res.Data)
	}
}

func TestPull_CustomMerge(t *testing.T) {
	ep := &fakeEndpoint{}
	keepHigher := func(local, remote *note) *note {
		if remote.Score > local.Score {
			local.Score = remote.Score
		}
		return local
	}
	repo, _ := newTestRepo(t, ep, keepHigher)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, "n1", func(n *note, _ bool) error { n.Score = 40; return nil }); err != nil {
		t.Fatal(err)
	}
	ep.pullRecords = []json.RawMessage{mustRaw(t, note{SyncMeta: models.SyncMeta{ID: "n1"}, Score: 90})}
	if _, err := repo.Pull(ctx); err != nil {
		t.Fatal(err)
	}

	res, _ := repo.ReadOne(ctx, "n1")
	if res.Data.Score != 90 {
		t.Errorf("Score = %d, want 90", res.Data.Score)
	}
	if res.Data.Status != models.SyncStatusUnsynced {
		t.Error("merged record with pending local changes must stay unsynced")
	}
}

func TestReadButFetchAll_PullsInBackground(t *testing.T) {
	ep := &fakeEndpoint{token: "t"}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	res, err := repo.ReadButFetchAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.PullStatus != PullPending || res.Status != StatusStale {
		t.Errorf("result = %+v, want stale/pending", res)
	}

	deadline := time.Now().Add(time.Second)
	for ep.pullCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ep.pullCount() == 0 {
		t.Error("background pull never ran")
	}
}

func TestDeleteAndPushUnsynced(t *testing.T) {
	ep := &fakeEndpoint{failIDs: map[string]string{"bad": "rejected"}}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "bad"} {
		if _, err := repo.Upsert(ctx, id, setText(id)); err != nil {
			t.Fatal(err)
		}
	}
	deleted, err := repo.Delete(ctx, "c")
	if err != nil || deleted == nil {
		t.Fatalf("Delete() = %v, %v", deleted, err)
	}
	if again, _ := repo.Delete(ctx, "c"); again != nil {
		t.Error("deleting a tombstone should report nothing deleted")
	}
	if res, _ := repo.ReadOne(ctx, "c"); res.Data != nil {
		t.Error("tombstone should be hidden from reads")
	}

	summary, err := repo.PushUnsynced(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Pushed != 3 || summary.Failed != 1 || summary.Remaining != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if len(ep.pushed) != 2 {
		t.Errorf("expected 2 batches of <=2 records, got %d", len(ep.pushed))
	}

	all, err := repo.coll.Query().Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("acknowledged tombstone should be removed, %d records remain", len(all))
	}

	n, err := repo.Query(store.Where("_status", models.SyncStatusUnsynced)).Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("unsynced count = %d, %v; want 1", n, err)
	}
}

func TestPushUnsynced_TransportFailure(t *testing.T) {
	ep := &fakeEndpoint{pushErr: remote.ErrUnavailable}
	repo, _ := newTestRepo(t, ep, nil)
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, "a", setText("a")); err != nil {
		t.Fatal(err)
	}
	summary, err := repo.PushUnsynced(ctx)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if summary.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", summary.Remaining)
	}
}

func TestNilEndpoint(t *testing.T) {
	repo, _ := newTestRepo(t, nil, nil)
	if _, err := repo.Pull(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}
