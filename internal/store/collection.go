// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/tomtom215/waypoint/internal/metrics"
)

// Collection is a typed view over the documents stored under one name.
type Collection[T any] struct {
	db     *DB
	name   string
	prefix []byte
}

// NewCollection returns the collection called name. Collections are cheap
// handles; creating two for the same name shares the data and write lock.
func NewCollection[T any](db *DB, name string) *Collection[T] {
	return &Collection[T]{db: db, name: name, prefix: []byte(name + "/")}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

func (c *Collection[T]) key(id string) []byte {
	return append(append([]byte{}, c.prefix...), id...)
}

// Get reads one record outside any write transaction.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := c.db.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	var out *T
	err := c.db.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = getRecord[T](txn, c.key(id))
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		metrics.RecordStoreOperation("get", c.name, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Write runs fn inside a single Badger update transaction while holding the
// collection write lock. If fn returns an error nothing is committed.
func (c *Collection[T]) Write(ctx context.Context, fn func(tx *Tx[T]) error) error {
	if err := c.db.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := c.db.lockCollection(c.name)
	defer unlock()

	start := time.Now()
	err := c.db.db.Update(func(txn *badger.Txn) error {
		return fn(&Tx[T]{c: c, txn: txn, ctx: ctx})
	})
	metrics.RecordStoreOperation("write", c.name, time.Since(start), err)
	return err
}

// Query starts a query matching every predicate.
func (c *Collection[T]) Query(preds ...Predicate) *Query[T] {
	return &Query[T]{c: c, pred: And(preds...)}
}

// Tx is the handle passed to Collection.Write.
type Tx[T any] struct {
	c   *Collection[T]
	txn *badger.Txn
	ctx context.Context
}

// Get returns the record with id, or ErrNotFound.
func (tx *Tx[T]) Get(id string) (*T, error) {
	return getRecord[T](tx.txn, tx.c.key(id))
}

// Put creates or replaces the record with id.
func (tx *Tx[T]) Put(id string, rec *T) error {
	if id == "" {
		return ErrEmptyID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", tx.c.name, id, err)
	}
	return tx.txn.Set(tx.c.key(id), data)
}

// Delete removes the record with id. Deleting a missing record is not an error.
func (tx *Tx[T]) Delete(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	return tx.txn.Delete(tx.c.key(id))
}

// Find returns every record matching preds as seen by this transaction.
func (tx *Tx[T]) Find(preds ...Predicate) ([]*T, error) {
	hits, err := scan[T](tx.ctx, tx.txn, tx.c.prefix, And(preds...))
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(hits))
	for i := range hits {
		out[i] = hits[i].rec
	}
	return out, nil
}

// Order is a sort direction.
type Order int

const (
	Asc Order = iota
	Desc
)

// Query is a lazily executed read over a collection.
type Query[T any] struct {
	c         *Collection[T]
	pred      Predicate
	sortField []string
	order     Order
	limit     int
}

// SortBy orders results by field. Records missing the field sort first in
// either direction. Ties keep key order.
func (q *Query[T]) SortBy(field string, order Order) *Query[T] {
	q.sortField = splitPath(field)
	q.order = order
	return q
}

// Take limits the number of results. n <= 0 means no limit.
func (q *Query[T]) Take(n int) *Query[T] {
	q.limit = n
	return q
}

// Fetch runs the query in a read transaction.
func (q *Query[T]) Fetch(ctx context.Context) ([]*T, error) {
	if err := q.c.db.checkOpen(); err != nil {
		return nil, err
	}

	start := time.Now()
	var hits []hit[T]
	err := q.c.db.db.View(func(txn *badger.Txn) error {
		var err error
		hits, err = scan[T](ctx, txn, q.c.prefix, q.pred)
		return err
	})
	metrics.RecordStoreOperation("query", q.c.name, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if q.sortField != nil {
		sort.SliceStable(hits, func(i, j int) bool {
			c, ok := compare(lookup(hits[i].doc, q.sortField), lookup(hits[j].doc, q.sortField))
			if !ok {
				// missing values first
				return lookup(hits[i].doc, q.sortField) == nil && lookup(hits[j].doc, q.sortField) != nil
			}
			if q.order == Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.limit > 0 && len(hits) > q.limit {
		hits = hits[:q.limit]
	}

	out := make([]*T, len(hits))
	for i := range hits {
		out[i] = hits[i].rec
	}
	return out, nil
}

// Count returns the number of matching records.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	recs, err := q.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// First returns the first matching record or ErrNotFound.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	recs, err := q.Take(1).Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

type hit[T any] struct {
	doc map[string]interface{}
	rec *T
}

func scan[T any](ctx context.Context, txn *badger.Txn, prefix []byte, pred Predicate) ([]hit[T], error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var hits []hit[T]
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var h hit[T]
		err := it.Item().Value(func(val []byte) error {
			if err := json.Unmarshal(val, &h.doc); err != nil {
				return err
			}
			if !pred.match(h.doc) {
				return nil
			}
			h.rec = new(T)
			return json.Unmarshal(val, h.rec)
		})
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		if h.rec != nil {
			hits = append(hits, h)
		}
	}
	return hits, nil
}

func getRecord[T any](txn *badger.Txn, key []byte) (*T, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	out := new(T)
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	}); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, nil
}
