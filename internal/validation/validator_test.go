// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package validation

import (
	"strings"
	"testing"
)

type sample struct {
	ContentID int64   `json:"content_id" validate:"gte=1"`
	Percent   int     `json:"progress_percent" validate:"min=0,max=100"`
	Type      string  `json:"collection_type" validate:"oneof=self guided-course"`
	Resume    *int    `json:"resume_time_seconds,omitempty" validate:"omitempty,min=0,max=65535"`
	Children  []int64 `json:"child_ids" validate:"unique"`
	Name      string  `validate:"max=4"`
}

func TestGetValidator_Singleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator() should return the same instance")
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	resume := 120
	s := sample{ContentID: 1, Percent: 50, Type: "self", Resume: &resume, Children: []int64{1, 2}}
	if err := ValidateStruct(&s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(&s); err != nil {
		t.Fatalf("Validate returned %v", err)
	}
}

func TestValidateStruct_UsesJSONNames(t *testing.T) {
	resume := 70000
	s := sample{ContentID: 0, Percent: 101, Type: "podcast", Resume: &resume, Children: []int64{3, 3}, Name: "toolong"}
	verr := ValidateStruct(&s)
	if verr == nil {
		t.Fatal("expected validation error")
	}

	fields := map[string]string{}
	for _, e := range verr.Errors() {
		fields[e.Field()] = e.Error()
	}
	want := map[string]string{
		"content_id":          "content_id must be greater than or equal to 1",
		"progress_percent":    "progress_percent must be at most 100",
		"collection_type":     "collection_type must be one of: self guided-course",
		"resume_time_seconds": "resume_time_seconds must be at most 65535",
		"child_ids":           "child_ids must not contain duplicates",
		"Name":                "Name must be at most 4 characters",
	}
	for field, msg := range want {
		if fields[field] != msg {
			t.Errorf("field %s: got %q, want %q", field, fields[field], msg)
		}
	}
}

func TestToAPIError(t *testing.T) {
	verr := ValidateStruct(&sample{ContentID: 1, Percent: 200, Type: "self"})
	if verr == nil {
		t.Fatal("expected error")
	}
	apiErr := verr.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %s", apiErr.Code)
	}
	if apiErr.Details["field"] != "progress_percent" {
		t.Errorf("Details = %v", apiErr.Details)
	}

	multi := ValidateStruct(&sample{ContentID: 0, Percent: 200, Type: "self"}).ToAPIError()
	if !strings.Contains(multi.Message, ";") {
		t.Errorf("expected joined message, got %q", multi.Message)
	}
	if _, ok := multi.Details["fields"]; !ok {
		t.Errorf("expected fields detail, got %v", multi.Details)
	}
}
