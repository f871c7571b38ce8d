package types

import (
	"errors"
	"fmt"
)

// Error classes shared by every package. Callers match them with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrOutOfBounds         = errors.New("out of bounds")
	ErrIndexOutOfRange     = fmt.Errorf("index out of range: %w", ErrOutOfBounds)
	ErrSubThreshold        = errors.New("geometry below minimum size")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrExternalFailure     = errors.New("external failure")
)

// InvalidInputf returns a formatted error wrapping ErrInvalidInput
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Unavailablef returns a formatted error wrapping ErrResourceUnavailable
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResourceUnavailable, fmt.Sprintf(format, args...))
}

// ExternalFailure wraps err, the failure of a collaborator outside the core.
func ExternalFailure(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalFailure, what, err)
}
