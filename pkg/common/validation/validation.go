// Package validation provides common validation utilities for the taskchain library.
package validation

import (
	"reflect"
	"time"

	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
)

// ValidatePositive validates that an integer value is positive (> 0).
// Returns a ValidationError if the value is not positive.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return tcerrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegative validates that a numeric value is non-negative (>= 0).
// Returns a ValidationError if the value is negative.
func ValidateNonNegative(module, field string, value float64) error {
	if value < 0 {
		return tcerrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidateNonNegativeDuration validates that a duration is zero or positive.
func ValidateNonNegativeDuration(module, field string, value time.Duration) error {
	if value < 0 {
		return tcerrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 to cancel immediately or a positive delay")
	}
	return nil
}

// ValidateNotNil validates that a value is neither a nil interface nor a
// typed nil pointer, func, map, chan or slice.
func ValidateNotNil(module, field string, value interface{}) error {
	if isNil(value) {
		return tcerrors.NewValidationError(module, field, nil, "cannot be nil").
			WithHint("provide a valid " + field)
	}
	return nil
}

// ValidateNotEmpty validates that a string value is not empty.
// Returns a ValidationError if the string is empty.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return tcerrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}

func isNil(value interface{}) bool {
	if value == nil {
		return true
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
