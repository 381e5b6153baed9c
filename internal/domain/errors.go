package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common domain errors that can occur during validation.
var (
	// ErrSignalUnavailable indicates that a layer could not produce a signal.
	// The orchestrator recovers from it locally.
	ErrSignalUnavailable = errors.New("signal unavailable")

	// ErrInvalidInput indicates malformed input such as a non-numeric rating.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownQuestionKind indicates a question kind outside the supported set.
	ErrUnknownQuestionKind = errors.New("unknown question kind")

	// ErrEmptyValue indicates that a required value is empty.
	ErrEmptyValue = errors.New("empty value")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// LayerError records which validation layer failed and why.
type LayerError struct {
	// Layer names the validation layer, e.g. "ml_confidence".
	Layer string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for LayerError.
func (e *LayerError) Error() string {
	return fmt.Sprintf("layer error: layer=%s, err=%v", e.Layer, e.Err)
}

// Unwrap returns the underlying error.
func (e *LayerError) Unwrap() error { return e.Err }

// NewLayerError creates a new LayerError.
func NewLayerError(layer string, err error) *LayerError {
	return &LayerError{Layer: layer, Err: err}
}

// ItemError is the failure of a single item in a batch.
type ItemError struct {
	Index int
	Err   error
}

// Error implements the error interface for ItemError.
func (e ItemError) Error() string { return fmt.Sprintf("item %d: %v", e.Index, e.Err) }

// Unwrap returns the underlying error.
func (e ItemError) Unwrap() error { return e.Err }

// BatchError reports per-item failures from a batch operation. Items not
// listed succeeded.
type BatchError struct {
	// Failures is ordered by Index.
	Failures []ItemError
}

// NewBatchError builds a BatchError from a slice of per-index errors, where
// nil entries are successes. It returns nil when no item failed.
func NewBatchError(errs []error) *BatchError {
	var failures []ItemError
	for i, err := range errs {
		if err != nil {
			failures = append(failures, ItemError{Index: i, Err: err})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	sort.Slice(failures, func(a, b int) bool { return failures[a].Index < failures[b].Index })
	return &BatchError{Failures: failures}
}

// Error implements the error interface for BatchError.
func (e *BatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("batch error: %d failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every item error to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Failed reports whether the item at index failed and returns its error.
func (e *BatchError) Failed(index int) (error, bool) {
	for _, f := range e.Failures {
		if f.Index == index {
			return f.Err, true
		}
	}
	return nil, false
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// Unwrap ties every ValidationError to ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
