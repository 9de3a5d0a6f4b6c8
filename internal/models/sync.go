// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package models

// SyncStatus tracks whether the local copy of a record matches the server.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusUnsynced SyncStatus = "unsynced"
	// SyncStatusDeleted marks a tombstone waiting to be pushed.
	SyncStatusDeleted SyncStatus = "deleted"
)

// SyncMeta is the bookkeeping every synchronized record embeds.
// Timestamps are epoch seconds.
type SyncMeta struct {
	ID            string     `json:"id" validate:"required"`
	Status        SyncStatus `json:"_status" validate:"oneof=synced unsynced deleted"`
	CreatedAt     int64      `json:"created_at" validate:"gte=0"`
	UpdatedAt     int64      `json:"updated_at" validate:"gte=0"`
	LastPushError string     `json:"_last_push_error,omitempty"`
}

// Sync gives repositories access to the embedded bookkeeping.
func (m *SyncMeta) Sync() *SyncMeta { return m }

// Syncable is implemented by every record type a sync repository manages.
type Syncable interface {
	Sync() *SyncMeta
}
