// Package errors provides the domain error vocabulary shared by the intake packages.
//
// Sentinel errors describe conditions callers branch on with errors.Is; the
// helpers below are thin wrappers so call sites read naturally:
//
//	if intakeerrors.IsNotFound(err) {
//	    // unknown id or an id owned by another organization
//	}
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the record does not exist for the caller's organization.
	// Cross-organization lookups deliberately yield the same error.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent writer changed the record first.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether any error in err's chain is ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// NotFound wraps ErrNotFound with the kind of record that was looked up.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Validationf formats a validation failure wrapping ErrValidation.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
