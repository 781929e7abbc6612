package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any persistence or generation call.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced conversation that does not exist.
	ErrNotFound = errors.New("not found")
)

// ValidationError carries the offending field. It matches ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
