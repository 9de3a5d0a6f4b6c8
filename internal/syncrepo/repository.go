// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package syncrepo implements the local-first repository shared by every
// synchronized entity type.
//
// Reads are served from the local store. Writes commit locally first and are
// marked unsynced; pushing them to the sync endpoint is a separate,
// best-effort step (PushOneEagerly for a single record, PushUnsynced for the
// background loop). A failed push never discards a local write.
//
// Read variants:
//
//	ReadOne / ReadAll                 local only, Status=stale
//	FetchOne / FetchAll               pull, then read local; fresh on success
//	ReadButFetchOne / ReadButFetchAll read local now, pull in the background
package syncrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
	"github.com/tomtom215/waypoint/internal/models"
	"github.com/tomtom215/waypoint/internal/remote"
	"github.com/tomtom215/waypoint/internal/store"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrTransport means a push or pull got no acknowledgment from the
	// sync endpoint. Local data is unaffected.
	ErrTransport = errors.New("sync transport failure")

	// ErrPullRejected means the endpoint answered a pull with success=false.
	ErrPullRejected = errors.New("sync pull rejected")
)

// Status says whether returned data reflects a pull made by the same call.
type Status string

const (
	StatusStale Status = "stale"
	StatusFresh Status = "fresh"
)

// PullStatus reports the pull leg of a read.
type PullStatus string

const (
	PullNone    PullStatus = ""
	PullSuccess PullStatus = "success"
	PullFailure PullStatus = "failure"
	PullPending PullStatus = "pending"
)

// Result wraps data returned by a read.
type Result[D any] struct {
	Data       D          `json:"data"`
	Status     Status     `json:"status"`
	PullStatus PullStatus `json:"pullStatus,omitempty"`
	FetchToken string     `json:"fetchToken,omitempty"`
}

// PushStatus is the outcome of pushing one record.
type PushStatus string

const (
	PushSynced PushStatus = "synced"
	PushFailed PushStatus = "failed"
	// PushSuperseded means the server acknowledged, but the local record
	// changed while the push was in flight, so it stays unsynced.
	PushSuperseded PushStatus = "superseded"
)

// PushOutcome is the result of PushOneEagerly.
type PushOutcome[PT any] struct {
	Status PushStatus
	Record PT
	Error  string
}

// Record constrains the pointer type a repository stores.
type Record[T any] interface {
	*T
	models.Syncable
}

type validator interface {
	Validate() error
}

// Config configures a Repository.
type Config[T any, PT Record[T]] struct {
	// Entity names both the local collection and the remote entity.
	Entity string

	// Merge combines a local record with the server's copy during a pull.
	// It is only called when both exist. When nil, unsynced local records
	// win and synced ones are replaced.
	Merge func(local, remote PT) PT

	// BatchSize bounds records per push request (default 100).
	BatchSize int
}

// Repository is the local-first store for one entity type.
type Repository[T any, PT Record[T]] struct {
	entity    string
	db        *store.DB
	coll      *store.Collection[T]
	endpoint  remote.SyncEndpoint
	merge     func(local, remote PT) PT
	batchSize int
	now       func() time.Time

	pulls singleflight.Group

	bgMu     sync.Mutex
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New creates a repository. endpoint may be nil for a purely local
// repository; every pull and push then fails with ErrTransport.
func New[T any, PT Record[T]](db *store.DB, endpoint remote.SyncEndpoint, cfg Config[T, PT]) *Repository[T, PT] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Repository[T, PT]{
		entity:    cfg.Entity,
		db:        db,
		coll:      store.NewCollection[T](db, cfg.Entity),
		endpoint:  endpoint,
		merge:     cfg.Merge,
		batchSize: cfg.BatchSize,
		now:       time.Now,
		bgCtx:     ctx,
		bgCancel:  cancel,
	}
}

// SetClock replaces the time source used for record timestamps.
func (r *Repository[T, PT]) SetClock(now func() time.Time) { r.now = now }

// Entity returns the entity name.
func (r *Repository[T, PT]) Entity() string { return r.entity }

// Close cancels background pulls and waits for them.
func (r *Repository[T, PT]) Close() {
	r.bgMu.Lock()
	r.bgCancel()
	r.bgMu.Unlock()
	r.bg.Wait()
}

func meta[T any, PT Record[T]](rec *T) *models.SyncMeta {
	return PT(rec).Sync()
}

// live excludes tombstones.
var live = store.Where("_status", store.NotEq(models.SyncStatusDeleted))

func (r *Repository[T, PT]) tokenKey() string {
	return "sync/" + r.entity + "/token"
}

// FetchToken returns the token of the last successful pull.
func (r *Repository[T, PT]) FetchToken() string {
	var token string
	if err := r.db.GetMeta(r.tokenKey(), &token); err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Warn().Err(err).Str("entity", r.entity).Msg("Failed to read fetch token")
	}
	return token
}

// Query starts a local query over live (non-deleted) records.
func (r *Repository[T, PT]) Query(preds ...store.Predicate) *store.Query[T] {
	return r.coll.Query(append([]store.Predicate{live}, preds...)...)
}

// ReadOne returns the local record, or nil data when it does not exist.
func (r *Repository[T, PT]) ReadOne(ctx context.Context, id string) (Result[PT], error) {
	rec, err := r.readLocal(ctx, id)
	if err != nil {
		return Result[PT]{}, err
	}
	return Result[PT]{Data: rec, Status: StatusStale, FetchToken: r.FetchToken()}, nil
}

// ReadAll returns every live local record matching preds.
func (r *Repository[T, PT]) ReadAll(ctx context.Context, preds ...store.Predicate) (Result[[]PT], error) {
	recs, err := r.readAllLocal(ctx, preds)
	if err != nil {
		return Result[[]PT]{}, err
	}
	return Result[[]PT]{Data: recs, Status: StatusStale, FetchToken: r.FetchToken()}, nil
}

// FetchOne pulls, then reads locally. A failed pull still returns local data.
func (r *Repository[T, PT]) FetchOne(ctx context.Context, id string) (Result[PT], error) {
	res := r.pullForRead(ctx)
	rec, err := r.readLocal(ctx, id)
	if err != nil {
		return Result[PT]{}, err
	}
	res.Data = rec
	return res, nil
}

// FetchAll pulls, then reads every live local record matching preds.
func (r *Repository[T, PT]) FetchAll(ctx context.Context, preds ...store.Predicate) (Result[[]PT], error) {
	res := r.pullForRead(ctx)
	recs, err := r.readAllLocal(ctx, preds)
	if err != nil {
		return Result[[]PT]{}, err
	}
	return Result[[]PT]{Data: recs, Status: res.Status, PullStatus: res.PullStatus, FetchToken: res.FetchToken}, nil
}

// ReadButFetchOne returns local data immediately and pulls in the
// background. The returned snapshot does not reflect that pull.
func (r *Repository[T, PT]) ReadButFetchOne(ctx context.Context, id string) (Result[PT], error) {
	res, err := r.ReadOne(ctx, id)
	if err != nil {
		return res, err
	}
	r.PullInBackground()
	res.PullStatus = PullPending
	return res, nil
}

// ReadButFetchAll is ReadAll plus a background pull.
func (r *Repository[T, PT]) ReadButFetchAll(ctx context.Context, preds ...store.Predicate) (Result[[]PT], error) {
	res, err := r.ReadAll(ctx, preds...)
	if err != nil {
		return res, err
	}
	r.PullInBackground()
	res.PullStatus = PullPending
	return res, nil
}

func (r *Repository[T, PT]) pullForRead(ctx context.Context) Result[PT] {
	token, err := r.Pull(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("entity", r.entity).Msg("Pull failed, serving local data")
		return Result[PT]{Status: StatusStale, PullStatus: PullFailure, FetchToken: r.FetchToken()}
	}
	return Result[PT]{Status: StatusFresh, PullStatus: PullSuccess, FetchToken: token}
}

func (r *Repository[T, PT]) readLocal(ctx context.Context, id string) (PT, error) {
	rec, err := r.coll.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", r.entity, id, err)
	}
	if meta[T, PT](rec).Status == models.SyncStatusDeleted {
		return nil, nil
	}
	return PT(rec), nil
}

func (r *Repository[T, PT]) readAllLocal(ctx context.Context, preds []store.Predicate) ([]PT, error) {
	recs, err := r.Query(preds...).Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.entity, err)
	}
	out := make([]PT, len(recs))
	for i := range recs {
		out[i] = PT(recs[i])
	}
	return out, nil
}

// Upsert creates or updates the record with id in one local transaction.
// mutate receives the current record (or a fresh one when isNew) and
// edits it in place. If mutate or validation fails nothing is written.
// The stored record is marked unsynced.
func (r *Repository[T, PT]) Upsert(ctx context.Context, id string, mutate func(rec PT, isNew bool) error) (PT, error) {
	var out PT
	err := r.coll.Write(ctx, func(tx *store.Tx[T]) error {
		now := r.now().Unix()

		cur, err := tx.Get(id)
		isNew := errors.Is(err, store.ErrNotFound)
		if err != nil && !isNew {
			return err
		}
		if !isNew && meta[T, PT](cur).Status == models.SyncStatusDeleted {
			isNew = true
		}

		rec := cur
		if isNew {
			rec = new(T)
			meta[T, PT](rec).CreatedAt = now
		}
		if err := mutate(PT(rec), isNew); err != nil {
			return err
		}

		m := meta[T, PT](rec)
		m.ID = id
		m.Status = models.SyncStatusUnsynced
		m.UpdatedAt = now
		m.LastPushError = ""

		if v, ok := any(PT(rec)).(validator); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
		if err := tx.Put(id, rec); err != nil {
			return err
		}
		out = PT(rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert %s/%s: %w", r.entity, id, err)
	}
	return out, nil
}

// Delete marks the record as a tombstone to be pushed and returns it, or
// nil when no live record existed.
func (r *Repository[T, PT]) Delete(ctx context.Context, id string) (PT, error) {
	var out PT
	err := r.coll.Write(ctx, func(tx *store.Tx[T]) error {
		cur, err := tx.Get(id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		m := meta[T, PT](cur)
		if m.Status == models.SyncStatusDeleted {
			return nil
		}
		m.Status = models.SyncStatusDeleted
		m.UpdatedAt = r.now().Unix()
		m.LastPushError = ""
		if err := tx.Put(id, cur); err != nil {
			return err
		}
		out = PT(cur)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete %s/%s: %w", r.entity, id, err)
	}
	return out, nil
}

// PushOneEagerly pushes rec immediately. Without an acknowledgment it
// returns an error wrapping ErrTransport and leaves the local record as is.
func (r *Repository[T, PT]) PushOneEagerly(ctx context.Context, rec PT) (PushOutcome[PT], error) {
	if rec == nil {
		return PushOutcome[PT]{}, errors.New("push: nil record")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return PushOutcome[PT]{}, fmt.Errorf("push %s: marshal: %w", r.entity, err)
	}

	results, err := r.push(ctx, []json.RawMessage{raw})
	if err != nil {
		metrics.RecordSyncPush(r.entity, "transport_error", 1)
		return PushOutcome[PT]{}, err
	}

	res := results[0]
	if res.Type != remote.PushSuccess {
		metrics.RecordSyncPush(r.entity, "failure", 1)
	} else {
		metrics.RecordSyncPush(r.entity, "success", 1)
	}

	var outcome PushOutcome[PT]
	err = r.coll.Write(ctx, func(tx *store.Tx[T]) error {
		var err error
		outcome, err = r.applyPushResult(tx, rec.Sync().ID, raw, res)
		return err
	})
	if err != nil {
		return PushOutcome[PT]{}, fmt.Errorf("push %s: apply result: %w", r.entity, err)
	}
	return outcome, nil
}

// push sends a batch and returns one result per record, in order.
func (r *Repository[T, PT]) push(ctx context.Context, raws []json.RawMessage) ([]remote.PushResult, error) {
	if r.endpoint == nil {
		return nil, fmt.Errorf("%w: no sync endpoint configured", ErrTransport)
	}
	resp, err := r.endpoint.PushRecords(ctx, r.entity, raws)
	if err != nil {
		return nil, fmt.Errorf("%w: push %s: %w", ErrTransport, r.entity, err)
	}
	if !resp.Acknowledged {
		return nil, fmt.Errorf("%w: push %s not acknowledged", ErrTransport, r.entity)
	}
	return alignResults(raws, resp.Results), nil
}

// alignResults matches results to pushed records by id, falling back to
// position. Records the server did not report on count as failures.
func alignResults(raws []json.RawMessage, results []remote.PushResult) []remote.PushResult {
	byID := make(map[string]remote.PushResult, len(results))
	for _, res := range results {
		if res.ID != "" {
			byID[res.ID] = res
		}
	}

	out := make([]remote.PushResult, len(raws))
	for i, raw := range raws {
		var m models.SyncMeta
		_ = json.Unmarshal(raw, &m)
		if res, ok := byID[m.ID]; ok {
			out[i] = res
			continue
		}
		if len(byID) == 0 && i < len(results) {
			out[i] = results[i]
			continue
		}
		out[i] = remote.PushResult{Type: remote.PushFailure, ID: m.ID, Error: "no result returned for record"}
	}
	return out
}

// applyPushResult records the outcome of a push for id. pushed is the exact
// payload that was sent; if the stored record no longer matches it the
// record changed mid-flight and keeps its pending status.
func (r *Repository[T, PT]) applyPushResult(tx *store.Tx[T], id string, pushed json.RawMessage, res remote.PushResult) (PushOutcome[PT], error) {
	cur, err := tx.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return PushOutcome[PT]{Status: PushSuperseded}, nil
	}
	if err != nil {
		return PushOutcome[PT]{}, err
	}
	curRaw, err := json.Marshal(cur)
	if err != nil {
		return PushOutcome[PT]{}, err
	}
	unchanged := bytes.Equal(curRaw, pushed)
	m := meta[T, PT](cur)

	if res.Type != remote.PushSuccess {
		if unchanged {
			m.LastPushError = res.Error
			if err := tx.Put(id, cur); err != nil {
				return PushOutcome[PT]{}, err
			}
		}
		return PushOutcome[PT]{Status: PushFailed, Record: PT(cur), Error: res.Error}, nil
	}

	if !unchanged {
		return PushOutcome[PT]{Status: PushSuperseded, Record: PT(cur)}, nil
	}

	if m.Status == models.SyncStatusDeleted {
		if err := tx.Delete(id); err != nil {
			return PushOutcome[PT]{}, err
		}
		return PushOutcome[PT]{Status: PushSynced}, nil
	}

	canonical := cur
	if len(res.Entry) > 0 && string(res.Entry) != "null" {
		decoded := new(T)
		if err := json.Unmarshal(res.Entry, decoded); err != nil {
			return PushOutcome[PT]{}, fmt.Errorf("decode canonical %s/%s: %w", r.entity, id, err)
		}
		canonical = decoded
	}
	cm := meta[T, PT](canonical)
	cm.ID = id
	cm.Status = models.SyncStatusSynced
	cm.LastPushError = ""
	if cm.CreatedAt == 0 {
		cm.CreatedAt = m.CreatedAt
	}
	if cm.UpdatedAt == 0 {
		cm.UpdatedAt = m.UpdatedAt
	}
	if err := tx.Put(id, canonical); err != nil {
		return PushOutcome[PT]{}, err
	}
	return PushOutcome[PT]{Status: PushSynced, Record: PT(canonical)}, nil
}

// PushSummary counts the records handled by PushUnsynced.
type PushSummary struct {
	Pushed     int `json:"pushed"`
	Failed     int `json:"failed"`
	Superseded int `json:"superseded"`
	Remaining  int `json:"remaining"`
}

// PushUnsynced pushes every pending record (including tombstones) in
// batches. It stops at the first batch without acknowledgment.
func (r *Repository[T, PT]) PushUnsynced(ctx context.Context) (PushSummary, error) {
	var summary PushSummary

	pending, err := r.coll.Query(
		store.Where("_status", store.OneOf(models.SyncStatusUnsynced, models.SyncStatusDeleted)),
	).SortBy("updated_at", store.Asc).Fetch(ctx)
	if err != nil {
		return summary, fmt.Errorf("list unsynced %s: %w", r.entity, err)
	}
	defer func() {
		metrics.SyncUnsyncedRecords.WithLabelValues(r.entity).Set(float64(summary.Remaining))
	}()
	summary.Remaining = len(pending)

	for start := 0; start < len(pending); start += r.batchSize {
		end := start + r.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		raws := make([]json.RawMessage, len(batch))
		for i, rec := range batch {
			if raws[i], err = json.Marshal(rec); err != nil {
				return summary, fmt.Errorf("marshal %s: %w", r.entity, err)
			}
		}

		results, err := r.push(ctx, raws)
		if err != nil {
			metrics.RecordSyncPush(r.entity, "transport_error", len(batch))
			return summary, err
		}

		err = r.coll.Write(ctx, func(tx *store.Tx[T]) error {
			for i, rec := range batch {
				outcome, err := r.applyPushResult(tx, meta[T, PT](rec).ID, raws[i], results[i])
				if err != nil {
					return err
				}
				switch outcome.Status {
				case PushSynced:
					summary.Pushed++
					summary.Remaining--
				case PushFailed:
					summary.Failed++
				case PushSuperseded:
					summary.Superseded++
				}
			}
			return nil
		})
		if err != nil {
			return summary, fmt.Errorf("apply push results %s: %w", r.entity, err)
		}
	}

	metrics.RecordSyncPush(r.entity, "success", summary.Pushed)
	metrics.RecordSyncPush(r.entity, "failure", summary.Failed)
	return summary, nil
}

// Pull fetches changes since the stored token and merges them locally.
// Concurrent calls share one request. It returns the new token.
func (r *Repository[T, PT]) Pull(ctx context.Context) (string, error) {
	v, err, _ := r.pulls.Do("pull", func() (interface{}, error) {
		return r.pull(ctx)
	})
	metrics.RecordSyncPull(r.entity, err)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Repository[T, PT]) pull(ctx context.Context) (string, error) {
	if r.endpoint == nil {
		return "", fmt.Errorf("%w: no sync endpoint configured", ErrTransport)
	}
	since := r.FetchToken()
	resp, err := r.endpoint.PullRecords(ctx, r.entity, since)
	if err != nil {
		return "", fmt.Errorf("%w: pull %s: %w", ErrTransport, r.entity, err)
	}
	if !resp.Success {
		return "", fmt.Errorf("%w: %s", ErrPullRejected, r.entity)
	}

	incoming := make([]*T, 0, len(resp.Records))
	for _, raw := range resp.Records {
		rec := new(T)
		if err := json.Unmarshal(raw, rec); err != nil {
			logging.Warn().Err(err).Str("entity", r.entity).Msg("Skipping undecodable pulled record")
			continue
		}
		if meta[T, PT](rec).ID == "" {
			continue
		}
		incoming = append(incoming, rec)
	}

	if len(incoming) > 0 {
		err = r.coll.Write(ctx, func(tx *store.Tx[T]) error {
			for _, rec := range incoming {
				if err := r.mergePulled(tx, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("merge pulled %s: %w", r.entity, err)
		}
	}

	if resp.Token != "" {
		if err := r.db.SetMeta(r.tokenKey(), resp.Token); err != nil {
			return "", fmt.Errorf("save fetch token: %w", err)
		}
	}

	logging.Debug().Str("entity", r.entity).Int("records", len(incoming)).Msg("Pulled remote changes")
	return resp.Token, nil
}

func (r *Repository[T, PT]) mergePulled(tx *store.Tx[T], rec *T) error {
	rm := meta[T, PT](rec)
	id := rm.ID
	remoteDeleted := rm.Status == models.SyncStatusDeleted

	cur, err := tx.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		if remoteDeleted {
			return nil
		}
		rm.Status = models.SyncStatusSynced
		rm.LastPushError = ""
		return tx.Put(id, rec)
	}
	if err != nil {
		return err
	}

	cm := meta[T, PT](cur)
	pending := cm.Status != models.SyncStatusSynced

	if remoteDeleted {
		if pending {
			return nil
		}
		return tx.Delete(id)
	}

	var merged *T
	switch {
	case r.merge != nil:
		merged = r.merge(PT(cur), PT(rec))
	case pending:
		merged = cur
	default:
		merged = rec
	}

	mm := meta[T, PT](merged)
	mm.ID = id
	if pending {
		mm.Status = cm.Status
		mm.LastPushError = cm.LastPushError
	} else {
		mm.Status = models.SyncStatusSynced
		mm.LastPushError = ""
	}
	return tx.Put(id, merged)
}

// PullInBackground starts a pull that the caller does not wait for.
func (r *Repository[T, PT]) PullInBackground() {
	r.bgMu.Lock()
	defer r.bgMu.Unlock()
	if r.bgCtx.Err() != nil {
		return
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		if _, err := r.Pull(r.bgCtx); err != nil {
			logging.Debug().Err(err).Str("entity", r.entity).Msg("Background pull failed")
		}
	}()
}
