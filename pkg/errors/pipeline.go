package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a classified pipeline failure.
type ErrorCode string

const (
	ErrTimeout             ErrorCode = "timeout"
	ErrContextCancelled    ErrorCode = "context_cancelled"
	ErrRateLimit           ErrorCode = "rate_limit"
	ErrProviderUnavailable ErrorCode = "provider_unavailable"
	ErrStoreUnavailable    ErrorCode = "store_unavailable"
	ErrParseError          ErrorCode = "parse_error"
	ErrProcessingError     ErrorCode = "processing_error"
)

// PipelineError is a structured error for a failed pipeline stage.
type PipelineError struct {
	Code    ErrorCode
	Stage   string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ClassifyError inspects err and returns a *PipelineError with the matching code.
// Unrecognised errors are classified as ErrProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) {
		return existing
	}

	pe := &PipelineError{Stage: stage, Cause: err, Message: err.Error()}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pe.Code = ErrTimeout
		pe.Message = "operation timed out"
		return pe
	case errors.Is(err, context.Canceled):
		pe.Code = ErrContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "rate limit", "429", "too many requests", "overloaded"):
		pe.Code = ErrRateLimit
	case containsAny(lower, "connection refused", "503", "502", "service unavailable", "no such host", "i/o timeout"):
		pe.Code = ErrProviderUnavailable
	case containsAny(lower, "pool closed", "conn busy", "failed to connect", "broken pipe"):
		pe.Code = ErrStoreUnavailable
	case containsAny(lower, "invalid character", "unexpected end of json", "cannot unmarshal"):
		pe.Code = ErrParseError
	default:
		pe.Code = ErrProcessingError
	}
	return pe
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// IsErrorRetryable reports whether err is worth another attempt.
// Domain errors never are; unclassified errors are looked up in ErrorCodeRegistry.
func IsErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsNotFound(err) || IsValidation(err) || IsInvalidState(err) {
		return false
	}
	pe := ClassifyError(err, "")
	if info, ok := ErrorCodeRegistry[pe.Code]; ok {
		return info.Retryable
	}
	return false
}
