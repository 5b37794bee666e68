package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an article id is not in the store.
var ErrNotFound = errors.New("article not found")

// MalformedInputError rejects a raw payload. Field names the offending input field.
type MalformedInputError struct {
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input: %s: %s", e.Field, e.Reason)
}

// NewMalformedInput returns a MalformedInputError for field.
func NewMalformedInput(field, format string, args ...interface{}) *MalformedInputError {
	return &MalformedInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransientProviderError wraps a timeout or rate-limit from an external capability.
type TransientProviderError struct {
	Capability string
	Err        error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s provider unavailable: %v", e.Capability, e.Err)
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}

// ModelVersionMismatchError means vectors of the active model version are not available
// for the requested comparison. Stale counts stored vectors of other versions.
type ModelVersionMismatchError struct {
	Active string
	Got    string
	Stale  int
}

func (e *ModelVersionMismatchError) Error() string {
	if e.Got != "" {
		return fmt.Sprintf("embedding model version mismatch: active %q, got %q", e.Active, e.Got)
	}
	return fmt.Sprintf("no vectors for active model version %q (%d stale awaiting re-embedding)", e.Active, e.Stale)
}

// NoRelevantResultsError is the defined empty state of a query: nothing cleared the similarity floor.
type NoRelevantResultsError struct {
	Query     string
	BestScore float64
	Floor     float64
}

func (e *NoRelevantResultsError) Error() string {
	return fmt.Sprintf("no relevant articles found for %q (best score %.3f below floor %.3f)", e.Query, e.BestScore, e.Floor)
}

// IsTransient reports whether err is, or wraps, a TransientProviderError.
func IsTransient(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t)
}

// IsNoRelevantResults reports whether err is, or wraps, a NoRelevantResultsError.
func IsNoRelevantResults(err error) bool {
	var n *NoRelevantResultsError
	return errors.As(err, &n)
}

// IsVersionMismatch reports whether err is, or wraps, a ModelVersionMismatchError.
func IsVersionMismatch(err error) bool {
	var m *ModelVersionMismatchError
	return errors.As(err, &m)
}
