// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package store is the on-device document store. Records are JSON documents
// kept in BadgerDB under "<collection>/<id>" keys and read back through typed
// collections with predicate queries.
//
// Writes to one collection are serialized: Collection.Write holds a
// per-collection mutex for the whole Badger update transaction, so two
// read-modify-write transactions on the same record can never interleave.
//
//	db, _ := store.Open(store.Config{Path: "/data/waypoint", SyncWrites: true})
//	progress := store.NewCollection[models.ContentProgress](db, "content_progress")
//
//	err := progress.Write(ctx, func(tx *store.Tx[models.ContentProgress]) error {
//	    rec, err := tx.Get(id)
//	    ...
//	    return tx.Put(id, rec)
//	})
//
//	started, err := progress.Query(
//	    store.Where("collection_type", "self"),
//	    store.Where("progress_percent", store.Lt(100)),
//	).SortBy("updated_at", store.Desc).Take(20).Fetch(ctx)
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/tomtom215/waypoint/internal/logging"
)

var (
	// ErrNotFound is returned when a record or meta key does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrEmptyID is returned when a record id is empty.
	ErrEmptyID = errors.New("record id is empty")
)

// Config configures the BadgerDB instance behind the store.
type Config struct {
	// Path is the directory holding the database. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests and ephemeral runs.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// GCRatio is the value log discard ratio that triggers a rewrite. Default: 0.5
	GCRatio float64

	// CloseTimeout bounds Close. Default: 10s
	CloseTimeout time.Duration
}

// DB is an open document store.
type DB struct {
	db     *badger.DB
	config Config

	mu     sync.RWMutex
	closed bool

	// collection name -> *sync.Mutex
	writeLocks sync.Map
}

// Open opens (or creates) the store described by cfg.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.GCRatio <= 0 || cfg.GCRatio >= 1 {
		cfg.GCRatio = 0.5
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Compression = options.Snappy
	opts.MemTableSize = 16 << 20
	opts.ValueLogFileSize = 64 << 20
	opts.NumCompactors = 2

	// Badger's own logger is noisy and not structured.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("Local store opened")

	return &DB{db: db, config: cfg}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*DB, error) {
	return Open(Config{InMemory: true})
}

func (d *DB) checkOpen() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

// lockCollection serializes writers of one collection and returns the unlock func.
func (d *DB) lockCollection(name string) func() {
	v, _ := d.writeLocks.LoadOrStore(name, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// RunGC rewrites value log files until Badger reports nothing left to reclaim.
// Returns the number of rewrites performed.
func (d *DB) RunGC() (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	if d.config.InMemory {
		return 0, nil
	}

	rewrites := 0
	for {
		err := d.db.RunValueLogGC(d.config.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return rewrites, nil
		}
		if err != nil {
			return rewrites, fmt.Errorf("run GC: %w", err)
		}
		rewrites++
	}
}

// Close flushes and closes the database, giving up after CloseTimeout.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	timeout := d.config.CloseTimeout
	d.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- d.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close BadgerDB: %w", err)
		}
		logging.Info().Msg("Local store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Dur("timeout", timeout).Msg("BadgerDB close timed out")
		return fmt.Errorf("badgerdb close timeout after %v", timeout)
	}
}
