package domain

import (
	"errors"
	"fmt"
)

// Sentinels for extraction failures, matched with errors.Is.
var (
	ErrRateLimited       = errors.New("extraction service rate limited")
	ErrQuotaExceeded     = errors.New("extraction service quota exhausted")
	ErrUnavailable       = errors.New("extraction service unavailable")
	ErrMalformedResponse = errors.New("extraction service returned a malformed response")
)

// ValidationError is returned before any state is mutated when a request is malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError means the caller does not own the household.
type AuthorizationError struct {
	HouseID string
	UserID  string
}

func (e *AuthorizationError) Error() string {
	if e.UserID == "" {
		return fmt.Sprintf("anonymous caller may not access house %s", e.HouseID)
	}
	return fmt.Sprintf("user %s may not access house %s", e.UserID, e.HouseID)
}

// NotFoundError reports a missing house, card or upload.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// StateError is returned when an upload is in a state that forbids the action.
type StateError struct {
	UploadID string
	Status   UploadStatus
	Action   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s upload %s while it is %s", e.Action, e.UploadID, e.Status)
}

// ExtractionError wraps a failure of the external extraction service.
// Kind is one of ErrRateLimited, ErrQuotaExceeded or ErrUnavailable.
type ExtractionError struct {
	Kind error
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ParseError means the extractor response could not be turned into candidates.
type ParseError struct {
	Reason  string
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	msg := "parse extractor response: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Snippet != "" {
		msg += fmt.Sprintf(" (response starts with %q)", e.Snippet)
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedResponse}
	}
	return []error{ErrMalformedResponse, e.Err}
}

// PersistenceError wraps a store failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Snippet shortens s for inclusion in error messages.
func Snippet(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
