// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Meta keys live outside every collection prefix.
const metaPrefix = "_meta/"

// GetMeta decodes the JSON value stored under key into v.
// Returns ErrNotFound when the key is absent.
func (d *DB) GetMeta(key string, v interface{}) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get meta %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// SetMeta stores v as JSON under key.
func (d *DB) SetMeta(key string, v interface{}) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal meta %s: %w", key, err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaPrefix+key), data)
	})
}

// DeleteMeta removes key. Deleting a missing key is not an error.
func (d *DB) DeleteMeta(key string) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(metaPrefix + key))
	})
}
