package volley_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
	ErrNotConfigured      = errors.New("not configured")
)

// ValidationError reports missing or malformed user input. It is shown to the
// user and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// UpstreamError carries a non-success response from the video registry or the
// ingest endpoint. Status and Body are surfaced verbatim.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: upstream returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: upstream returned %d: %s", e.Op, e.Status, e.Body)
}

// TransportError is a network failure in the middle of an upload. The session
// that produced it is failed but can be restarted from Offset by the caller.
type TransportError struct {
	Offset int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transfer interrupted at offset %d: %v", e.Offset, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
