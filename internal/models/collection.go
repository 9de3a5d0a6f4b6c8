// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package models defines the persisted records and event payloads shared by
// the progress, sync and award packages.
package models

import (
	"errors"
	"fmt"
)

// CollectionType is the grouping a piece of content is consumed under.
type CollectionType string

const (
	// CollectionSelf means the content was consumed standalone, outside any collection.
	CollectionSelf         CollectionType = "self"
	CollectionGuidedCourse CollectionType = "guided-course"
	CollectionLearningPath CollectionType = "learning-path"
	CollectionPlaylist     CollectionType = "playlist"
)

// ErrInvalidCollection is returned for unknown collection types or ids that
// do not match the type.
var ErrInvalidCollection = errors.New("invalid collection")

// Valid reports whether t is one of the known collection types.
func (t CollectionType) Valid() bool {
	switch t {
	case CollectionSelf, CollectionGuidedCourse, CollectionLearningPath, CollectionPlaylist:
		return true
	}
	return false
}

// ParseCollectionType parses s, treating "" as CollectionSelf.
func ParseCollectionType(s string) (CollectionType, error) {
	if s == "" {
		return CollectionSelf, nil
	}
	t := CollectionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidCollection, s)
	}
	return t, nil
}

// Collection is the context progress is tracked in. The zero value is not
// valid; use Standalone or ResolveCollection.
type Collection struct {
	Type CollectionType `json:"type"`
	ID   int64          `json:"id"`
}

// Standalone returns the "no collection" context (self, 0).
func Standalone() Collection {
	return Collection{Type: CollectionSelf, ID: 0}
}

// ResolveCollection maps a nil or empty collection to Standalone. Any other
// value is returned as is and left to Validate.
func ResolveCollection(c *Collection) Collection {
	if c == nil || c.Type == "" {
		return Standalone()
	}
	return *c
}

// IsStandalone reports whether c is the (self, 0) context.
func (c Collection) IsStandalone() bool {
	return c.Type == CollectionSelf
}

// Validate checks that the type is known and the id agrees with it:
// self always has id 0, every other type a positive id.
func (c Collection) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCollection, c.Type)
	}
	if c.Type == CollectionSelf && c.ID != 0 {
		return fmt.Errorf("%w: self collection must have id 0, got %d", ErrInvalidCollection, c.ID)
	}
	if c.Type != CollectionSelf && c.ID <= 0 {
		return fmt.Errorf("%w: %s requires a positive id", ErrInvalidCollection, c.Type)
	}
	return nil
}

func (c Collection) String() string {
	return fmt.Sprintf("%s:%d", c.Type, c.ID)
}
