package errors

import (
	"errors"
	"fmt"
	"reflect"
)

// Common error types used across the taskchain library

var (
	// ErrClosed indicates that an operation was attempted on a closed resource
	ErrClosed = errors.New("resource is closed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates that an operation did not run, or did not finish,
	// because cancellation was requested
	ErrCanceled = errors.New("operation canceled")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrFrozen indicates a mutation of a table or builder that has already
	// been handed over to a running pipeline
	ErrFrozen = errors.New("configuration is frozen")

	// ErrAlreadyExecuted indicates a second execution of a single-use pipeline
	ErrAlreadyExecuted = errors.New("pipeline already executed")
)

// ValidationError describes a configuration parameter that was rejected.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError without a hint.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the same error.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap makes every ValidationError match ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// OperationError wraps a failure of a named operation inside a module.
type OperationError struct {
	Module    string
	Operation string
	Cause     error
	Context   string
}

// NewOperationError creates an OperationError without extra context.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

// WithContext attaches free-form context and returns the same error.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// TypeMismatchError is returned when a dependent stage is chained after a
// stage whose output cannot be assigned to the dependent stage's input.
type TypeMismatchError struct {
	Stage    int
	Expected reflect.Type
	Actual   reflect.Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("stage %d: previous stage produces %s, which is not assignable to required input %s",
		e.Stage, typeName(e.Actual), typeName(e.Expected))
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrInvalidConfiguration
}

// DuplicateHandlerError is returned when a second handler is registered for
// an error category that already has one in the same table.
type DuplicateHandlerError struct {
	Scope    string
	Category reflect.Type
}

func (e *DuplicateHandlerError) Error() string {
	return fmt.Sprintf("%s: unable to add multiple handlers for error category %s", e.Scope, typeName(e.Category))
}

func (e *DuplicateHandlerError) Unwrap() error {
	return ErrInvalidConfiguration
}

// IsConfiguration returns true if the error was raised while assembling a
// pipeline rather than while running one
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) || errors.Is(err, ErrFrozen)
}

// IsValidationError returns true if err is, or wraps, a ValidationError
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsTemporary returns true if the error indicates a temporary condition
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrCanceled)
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "no value"
	}
	return t.String()
}
