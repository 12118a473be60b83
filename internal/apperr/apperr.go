// internal/apperr/apperr.go
// Package apperr defines the error kinds the engine distinguishes.
// Handlers map them onto HTTP statuses; everything else is an internal fault.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers absent rooms, conns, and resume tokens.
	ErrNotFound = errors.New("not found")
	// ErrForbidden covers callers lacking authority (non-host, non-impostor, wrong speaker).
	ErrForbidden = errors.New("forbidden")
	// ErrConflict covers violated preconditions (wrong phase, not all ready, already voted...).
	ErrConflict = errors.New("conflict")
	// ErrValidation covers malformed input (empty nickname, out-of-range settings...).
	ErrValidation = errors.New("validation failed")
)

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Forbiddenf wraps ErrForbidden with a formatted message.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
