package domain

import (
	"errors"
	"fmt"
)

var (
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrSessionIndeterminate = errors.New("session state indeterminate")
	ErrTokenConflict        = errors.New("session token already exists")
	ErrIdentityRequired     = errors.New("identity is required")
)

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsIndeterminate reports whether a session lookup could not reach a verdict.
// Callers decide whether that means retry or deny.
func IsIndeterminate(err error) bool {
	return errors.Is(err, ErrSessionIndeterminate)
}

func IsTokenConflict(err error) bool {
	return errors.Is(err, ErrTokenConflict)
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
