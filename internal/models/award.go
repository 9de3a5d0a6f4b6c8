// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package models

import (
	"errors"
	"fmt"

	"github.com/tomtom215/waypoint/internal/validation"
)

// ErrAwardInvariant is returned when completed_at and progress_percentage disagree.
var ErrAwardInvariant = errors.New("award progress invariant violated")

// AwardDefinition is the cached projection of a CMS-authored award.
type AwardDefinition struct {
	ID              string  `json:"id" validate:"required"`
	ParentContentID int64   `json:"parent_content_id" validate:"gte=1"`
	ChildContentIDs []int64 `json:"child_ids" validate:"min=1,unique"`
	HasKickoff      bool    `json:"has_kickoff"`
	Brand           string  `json:"brand"`
	Title           string  `json:"title"`
	ContentType     string  `json:"content_type,omitempty"`
	BadgeURL        string  `json:"badge,omitempty"`
	AwardURL        string  `json:"award,omitempty"`
	CustomText      string  `json:"award_custom_text,omitempty"`

	// CollectionType is the context children are counted in. Empty or self
	// counts standalone progress; anything else counts progress recorded
	// under (CollectionType, ParentContentID).
	CollectionType CollectionType `json:"collection_type,omitempty" validate:"omitempty,oneof=self guided-course learning-path playlist"`
}

// Validate checks the definition is usable for evaluation.
func (d *AwardDefinition) Validate() error {
	return validation.Validate(d)
}

// EligibleChildIDs returns the children that count toward completion. The
// kickoff item, when present, is always the first child and never counts.
func (d *AwardDefinition) EligibleChildIDs() []int64 {
	ids := d.ChildContentIDs
	if d.HasKickoff && len(ids) > 0 {
		ids = ids[1:]
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

// ChildCollection is the context child progress is looked up in.
func (d *AwardDefinition) ChildCollection() Collection {
	if d.CollectionType == "" || d.CollectionType == CollectionSelf {
		return Standalone()
	}
	return Collection{Type: d.CollectionType, ID: d.ParentContentID}
}

// HasChild reports whether contentID is one of the award's children,
// kickoff included.
func (d *AwardDefinition) HasChild(contentID int64) bool {
	for _, id := range d.ChildContentIDs {
		if id == contentID {
			return true
		}
	}
	return false
}

// ProgressData is the cached completion breakdown of an award.
type ProgressData struct {
	CompletedContentIDs []int64 `json:"completed_content_ids"`
	CompletedCount      int     `json:"completed_count"`
	TotalCount          int     `json:"total_count"`
}

// CompletionData is synthesized once, when the award is granted.
type CompletionData struct {
	DaysUserPracticed int    `json:"days_user_practiced"`
	PracticeMinutes   int    `json:"practice_minutes"`
	ContentTitle      string `json:"content_title"`
	CompletedAt       string `json:"completed_at"`
}

// UserAwardProgress is the user's evaluation result for one award. The
// record id equals the award id.
type UserAwardProgress struct {
	SyncMeta

	AwardID            string          `json:"award_id" validate:"required"`
	ProgressPercentage int             `json:"progress_percentage" validate:"min=0,max=100"`
	CompletedAt        *int64          `json:"completed_at,omitempty"`
	ProgressData       *ProgressData   `json:"progress_data,omitempty"`
	CompletionData     *CompletionData `json:"completion_data,omitempty"`
}

// IsCompleted reports whether the award has been granted.
func (p *UserAwardProgress) IsCompleted() bool {
	return p.CompletedAt != nil
}

// Validate checks ranges and that completed_at is set iff the percentage is 100.
func (p *UserAwardProgress) Validate() error {
	if err := validation.Validate(p); err != nil {
		return err
	}
	if (p.CompletedAt != nil) != (p.ProgressPercentage == 100) {
		return fmt.Errorf("%w: award %s has percentage %d and completed_at set=%t",
			ErrAwardInvariant, p.AwardID, p.ProgressPercentage, p.CompletedAt != nil)
	}
	return nil
}
