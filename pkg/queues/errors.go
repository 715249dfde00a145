package queues

import (
	"errors"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
)

// Queue errors.
var (
	ErrJobNotFound = errors.New("job not found")
	ErrInvalidJob  = errors.New("invalid job")
)

// IsInvalidJob reports whether err was caused by a malformed job.
func IsInvalidJob(err error) bool {
	return errors.Is(err, ErrInvalidJob)
}

// ErrorCategory categorizes processing errors for retry decisions.
type ErrorCategory string

const (
	// ErrorCategoryTransient is worth retrying after backoff.
	ErrorCategoryTransient ErrorCategory = "transient"
	// ErrorCategoryPermanent will not be fixed by a retry.
	ErrorCategoryPermanent ErrorCategory = "permanent"
)

// ProcessingError wraps a handler failure with its category.
type ProcessingError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the job should be retried.
func (e *ProcessingError) IsRetryable() bool {
	return e.Category == ErrorCategoryTransient
}

// NewTransientError creates a retryable error.
func NewTransientError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Category: ErrorCategoryTransient, Code: code, Message: message, Err: err}
}

// NewPermanentError creates an error that dead-letters the job.
func NewPermanentError(code, message string, err error) *ProcessingError {
	return &ProcessingError{Category: ErrorCategoryPermanent, Code: code, Message: message, Err: err}
}

// Classify turns an arbitrary handler error into a ProcessingError.
// Domain errors (not found, validation) are permanent; the rest follow the
// pipeline error registry.
func Classify(err error) *ProcessingError {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe
	}
	classified := intakeerrors.ClassifyError(err, "")
	if intakeerrors.IsErrorRetryable(err) {
		return NewTransientError(string(classified.Code), "job failed", err)
	}
	return NewPermanentError(string(classified.Code), "job failed", err)
}
