// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package models

import "time"

// ProgressSavedEvent is emitted after a progress write commits locally.
type ProgressSavedEvent struct {
	UserID            int64          `json:"userId"`
	ContentID         int64          `json:"contentId"`
	ProgressPercent   int            `json:"progressPercent"`
	ProgressStatus    ProgressState  `json:"progressStatus"`
	CollectionType    CollectionType `json:"collectionType"`
	CollectionID      int64          `json:"collectionId"`
	ResumeTimeSeconds *int           `json:"resumeTimeSeconds,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

// AwardGrantedEvent is emitted once, when an award is granted.
type AwardGrantedEvent struct {
	AwardID        string          `json:"awardId"`
	Definition     AwardDefinition `json:"definition"`
	CompletionData CompletionData  `json:"completionData"`
	PopupMessage   string          `json:"popupMessage"`
	Timestamp      time.Time       `json:"timestamp"`
}

// AwardProgressEvent is emitted when partial award progress is recorded.
type AwardProgressEvent struct {
	AwardID            string    `json:"awardId"`
	ProgressPercentage int       `json:"progressPercentage"`
	Timestamp          time.Time `json:"timestamp"`
}
