package model

import (
	"errors"
	"fmt"
)

// Standard error codes.
const (
	ErrBadRequest          = "BAD_REQUEST"
	ErrUnauthorized        = "UNAUTHORIZED"
	ErrForbidden           = "FORBIDDEN"
	ErrNotFound            = "NOT_FOUND"
	ErrValidationError     = "VALIDATION_ERROR"
	ErrInternalError       = "INTERNAL_ERROR"
	ErrUpstreamError       = "UPSTREAM_ERROR"
	ErrUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrUpstreamTimeout     = "UPSTREAM_TIMEOUT"
)

// Collaboration-specific error codes.
const (
	// ErrStaleVersion means a write presented a last_event_id that no longer
	// matches the server's record. Recoverable: re-fetch the action, then let
	// the user retry on top of the fresh state. Never retried blindly.
	ErrStaleVersion = "STALE_VERSION"

	// ErrDuplicate means a create collided with an existing record carrying
	// the same canonical id. The backfill coordinator treats this as success.
	ErrDuplicate = "DUPLICATE"

	// ErrUnknownStatus means a requested status is not one of the project's
	// canonical statuses.
	ErrUnknownStatus = "UNKNOWN_STATUS"

	// ErrBackfillAborted means a backfill run stopped before processing every
	// legacy action. The remaining work is retried on the next eligible run.
	ErrBackfillAborted = "BACKFILL_ABORTED"
)

// ErrorEnvelope is the standard error shape crossing package and wire
// boundaries. It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CodeOf returns the envelope code carried by err, unwrapping as needed, or
// ErrInternalError when err is not an ErrorEnvelope.
func CodeOf(err error) string {
	var envelope *ErrorEnvelope
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ErrInternalError
}

// IsStaleVersion reports whether err is a stale-version conflict.
func IsStaleVersion(err error) bool {
	return CodeOf(err) == ErrStaleVersion
}

// IsDuplicate reports whether err is a duplicate-creation conflict.
func IsDuplicate(err error) bool {
	return CodeOf(err) == ErrDuplicate
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewForbiddenError returns a FORBIDDEN error.
func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewStaleVersionError returns a STALE_VERSION conflict.
func NewStaleVersionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrStaleVersion, Message: msg}
}

// NewDuplicateError returns a DUPLICATE conflict.
func NewDuplicateError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDuplicate, Message: msg}
}

// NewUnknownStatusError returns an UNKNOWN_STATUS error for the given status.
func NewUnknownStatusError(status Status) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUnknownStatus,
		Message: fmt.Sprintf("status %q is not part of the project workflow", status),
	}
}

// NewBackfillAbortedError wraps the failure that stopped a backfill run.
func NewBackfillAbortedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBackfillAborted, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR with field-level details.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "One or more fields are invalid",
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewUpstreamError returns an UPSTREAM_ERROR carrying the upstream message.
func NewUpstreamError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUpstreamError, Message: msg}
}

// NewUpstreamUnavailableError returns an UPSTREAM_UNAVAILABLE error.
func NewUpstreamUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUpstreamUnavailable,
		Message: "The action store is temporarily unavailable",
	}
}

// NewUpstreamTimeoutError returns an UPSTREAM_TIMEOUT error.
func NewUpstreamTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrUpstreamTimeout,
		Message: "The action store did not respond in time",
	}
}
