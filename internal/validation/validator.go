// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

// Package validation wraps a singleton go-playground/validator instance.
//
// Field names in errors use the json tag of the field, so a failure on
// ContentProgress.ProgressPercent reads "progress_percent must be at most 100",
// matching what HTTP clients send.
//
//	type RecordRequest struct {
//	    ContentID int64 `json:"content_id" validate:"gte=1"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    ...
//	}
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError is one failed field.
//
//nolint:revive // name kept for symmetry with RequestValidationError
type ValidationError struct {
	field   string
	tag     string
	param   string
	value   interface{}
	message string
}

// Field returns the json name of the field that failed.
func (e *ValidationError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *ValidationError) Tag() string { return e.tag }

// Param returns the tag parameter ("100" for "max=100").
func (e *ValidationError) Param() string { return e.param }

// Value returns the rejected value.
func (e *ValidationError) Value() interface{} { return e.value }

func (e *ValidationError) Error() string { return e.message }

// RequestValidationError collects every failed field of one struct.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the individual field failures.
func (ve *RequestValidationError) Errors() []ValidationError {
	return ve.errors
}

func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(ve.errors))
	for i := range ve.errors {
		messages = append(messages, ve.errors[i].Error())
	}
	return strings.Join(messages, "; ")
}

// APIError is the envelope-ready form of a validation failure.
type APIError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// ToAPIError converts the failure to the HTTP error envelope shape.
func (ve *RequestValidationError) ToAPIError() *APIError {
	apiErr := &APIError{Code: "VALIDATION_ERROR", Message: "Validation failed"}
	switch len(ve.errors) {
	case 0:
		return apiErr
	case 1:
		e := ve.errors[0]
		apiErr.Message = e.message
		apiErr.Details = map[string]interface{}{"field": e.field, "tag": e.tag, "value": e.value}
		return apiErr
	}

	fields := make([]map[string]interface{}, len(ve.errors))
	for i, e := range ve.errors {
		fields[i] = map[string]interface{}{"field": e.field, "tag": e.tag, "message": e.message}
	}
	apiErr.Message = ve.Error()
	apiErr.Details = map[string]interface{}{"fields": fields}
	return apiErr
}

// GetValidator returns the process-wide validator, building it on first use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
	})
	return validate
}

func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}
	return name
}

// ValidateStruct validates s and returns nil or a *RequestValidationError.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{errors: []ValidationError{{
			field:   "unknown",
			tag:     "unknown",
			message: err.Error(),
		}}}
	}

	fieldErrors := make([]ValidationError, len(validationErrs))
	for i, fe := range validationErrs {
		fieldErrors[i] = ValidationError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			value:   fe.Value(),
			message: translateError(fe),
		}
	}
	return &RequestValidationError{errors: fieldErrors}
}

// Validate is ValidateStruct returning a plain error, for call sites that
// only wrap and propagate.
func Validate(s interface{}) error {
	if verr := ValidateStruct(s); verr != nil {
		return verr
	}
	return nil
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"url":      "%s must be a valid URL",
	"unique":   "%s must not contain duplicates",
}

var errorMessageWithParam = map[string]string{
	"oneof":           "%s must be one of: %s",
	"gte":             "%s must be greater than or equal to %s",
	"lte":             "%s must be less than or equal to %s",
	"gt":              "%s must be greater than %s",
	"lt":              "%s must be less than %s",
	"required_with":   "%s is required when %s is set",
	"excluded_unless": "%s must be empty unless %s",
}

func translateError(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if template, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(template, field)
	}
	if template, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(template, field, param)
	}

	isString := fe.Kind() == reflect.String
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
