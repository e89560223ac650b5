// Package errors provides standardized error handling for the query gateway.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Request validation errors, rejected before any core logic runs.
	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// Quota errors, reported and never retried.
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeCounterStoreFailed ErrorCode = "COUNTER_STORE_FAILED"

	// Upstream transport errors, retried per budget then escalated.
	ErrCodeUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamCallFailed ErrorCode = "UPSTREAM_CALL_FAILED"
	ErrCodeUpstreamBadPayload ErrorCode = "UPSTREAM_BAD_PAYLOAD"

	// Upstream-reported errors, intercepted and substituted with a degraded
	// result inside the adapter.
	ErrCodeUpstreamReported ErrorCode = "UPSTREAM_REPORTED_ERROR"

	// Catch-all at the orchestrator boundary.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidRequestError creates a non-retryable request validation error.
func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   "Request failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError creates a non-retryable quota error carrying the
// remaining-quota value for the response body.
func NewRateLimitedError(remaining int) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Monthly query quota exceeded",
		Retryable: false,
		Metadata:  map[string]interface{}{"remaining": remaining},
		Timestamp: time.Now().UTC(),
	}
}

// NewCounterStoreFailedError creates a retryable counter store error.
func NewCounterStoreFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCounterStoreFailed,
		Message:   "Usage counter transaction failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamTimeoutError creates a retryable upstream timeout error.
func NewUpstreamTimeoutError(endpoint string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamTimeout,
		Message:   "Upstream call timed out",
		Details:   fmt.Sprintf("endpoint: %s", endpoint),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamCallFailedError creates a retryable upstream transport error.
func NewUpstreamCallFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamCallFailed,
		Message:   "Upstream call failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamBadPayloadError creates a retryable malformed-body error.
func NewUpstreamBadPayloadError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamBadPayload,
		Message:   "Upstream response body could not be decoded",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUpstreamReportedError marks an error the upstream embedded in an
// otherwise well-formed response. The adapter absorbs these.
func NewUpstreamReportedError(detail string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamReported,
		Message:   "Upstream reported an error in its response",
		Details:   detail,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps an unexpected failure for the orchestrator boundary.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected internal error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Classification Helpers
// ==========================

// Normalize ensures any error is represented as a StandardError.
func Normalize(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryable reports whether the error is eligible for a retry attempt.
func IsRetryable(err error) bool {
	return Normalize(err).Retryable
}

// GetErrorCategory groups codes for metrics labels.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidRequest:
		return "validation"
	case ErrCodeRateLimited, ErrCodeCounterStoreFailed:
		return "quota"
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamCallFailed, ErrCodeUpstreamBadPayload:
		return "transport"
	case ErrCodeUpstreamReported:
		return "upstream"
	default:
		return "internal"
	}
}
