// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package models

import (
	"fmt"

	"github.com/tomtom215/waypoint/internal/validation"
)

// ProgressState is derived from ProgressPercent and never stored.
type ProgressState string

const (
	StateStarted   ProgressState = "started"
	StateCompleted ProgressState = "completed"
)

// MaxResumeTimeSeconds bounds resume_time_seconds to an unsigned 16-bit range.
const MaxResumeTimeSeconds = 65535

// ContentProgress is the consumption state of one content item inside one
// collection context. The same content id has independent records per
// context, so it can be completed inside a course and untouched standalone.
type ContentProgress struct {
	SyncMeta

	ContentID      int64          `json:"content_id" validate:"gte=0"`
	ContentBrand   string         `json:"content_brand"`
	CollectionType CollectionType `json:"collection_type" validate:"oneof=self guided-course learning-path playlist"`
	CollectionID   int64          `json:"collection_id" validate:"gte=0"`

	ProgressPercent   int  `json:"progress_percent" validate:"min=0,max=100"`
	ResumeTimeSeconds *int `json:"resume_time_seconds,omitempty" validate:"omitempty,min=0,max=65535"`

	// LastInteractedStandalone is only touched by writes made outside a collection.
	LastInteractedStandalone *int64 `json:"last_interacted_standalone,omitempty"`
}

// ProgressID builds the deterministic record id "<content_id>:<type>:<collection_id>".
func ProgressID(contentID int64, c Collection) string {
	return fmt.Sprintf("%d:%s:%d", contentID, c.Type, c.ID)
}

// StateFor derives the state for a percentage.
func StateFor(percent int) ProgressState {
	if percent == 100 {
		return StateCompleted
	}
	return StateStarted
}

// State is completed iff ProgressPercent is 100.
func (p *ContentProgress) State() ProgressState {
	return StateFor(p.ProgressPercent)
}

// IsCompleted is shorthand for State() == StateCompleted.
func (p *ContentProgress) IsCompleted() bool {
	return p.ProgressPercent == 100
}

// Collection returns the context this record belongs to.
func (p *ContentProgress) Collection() Collection {
	return Collection{Type: p.CollectionType, ID: p.CollectionID}
}

// Validate checks field ranges and that the id matches the composite key.
func (p *ContentProgress) Validate() error {
	if err := validation.Validate(p); err != nil {
		return err
	}
	if err := p.Collection().Validate(); err != nil {
		return err
	}
	if want := ProgressID(p.ContentID, p.Collection()); p.ID != want {
		return fmt.Errorf("progress id %q does not match key %q", p.ID, want)
	}
	return nil
}

// ClampPercent bounds percent to [0, 100].
func ClampPercent(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}

// MergePercent applies the monotonic rule: the incoming value wins when it
// is not lower than the current one, or when it is an explicit reset to 0.
// Only a literal 0 resets; negative input clamps to 0 and loses to current.
func MergePercent(current, incoming int) int {
	if incoming == 0 {
		return 0
	}
	incoming = ClampPercent(incoming)
	if incoming >= current {
		return incoming
	}
	return current
}
