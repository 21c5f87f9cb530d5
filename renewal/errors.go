/*
errors.go - Centralized error types for the renewal engine

ERROR CATEGORIES:
  1. MalformedRow - an upload row missing or mangling required fields.
     Rejected per row; the rest of the batch still reconciles.
  2. ConcurrentUpload - two reconciliations raced on the same agency/window.
     Retryable: the loser re-fetches and re-diffs.
  3. Persistence - a Store call failed. Propagated to the caller; optimistic
     edits revert locally.
  4. Lookup/validation - missing records, bad windows, bad workflow values.

The query engine has no error type: unknown sort columns or filter values
degrade to no-ops.
*/
package renewal

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMalformedRow is returned for an upload row that cannot be reconciled.
	ErrMalformedRow = errors.New("malformed row")

	// ErrConcurrentUpload is returned when the window changed between diff
	// and commit. Retry from Preview.
	ErrConcurrentUpload = errors.New("concurrent upload for the same window")

	// ErrPersistence wraps failures reported by a Store.
	ErrPersistence = errors.New("persistence failure")

	// ErrRecordNotFound is returned when a record id does not exist.
	ErrRecordNotFound = errors.New("renewal record not found")

	// ErrRecordNotDropped is returned when resolving a record that is still
	// present in its latest report.
	ErrRecordNotDropped = errors.New("renewal record is not dropped")

	// ErrInvalidWindow is returned for a missing or inverted date range.
	ErrInvalidWindow = errors.New("invalid window: end before start or missing bound")

	// ErrInvalidWorkflowStatus is returned for a status outside the workflow set.
	ErrInvalidWorkflowStatus = errors.New("invalid workflow status")

	// ErrMissingAgency is returned for an upload without an agency.
	ErrMissingAgency = errors.New("missing agency id")

	// ErrStalePlan is returned when a plan is committed for a different
	// agency or window than it was computed for.
	ErrStalePlan = errors.New("plan does not match upload")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MalformedRowError describes why one upload row was rejected.
type MalformedRowError struct {
	Row          int // zero-based position in the upload
	PolicyNumber string
	Field        string
	Reason       string
}

func (e *MalformedRowError) Error() string {
	if e.PolicyNumber != "" {
		return fmt.Sprintf("row %d (policy %s): %s: %s", e.Row, e.PolicyNumber, e.Field, e.Reason)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

func (e *MalformedRowError) Unwrap() error {
	return ErrMalformedRow
}

// PersistenceError records which store operation failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrPersistence and the underlying cause.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrConcurrentUpload) ||
		errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrRecordNotDropped) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpload)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMalformedRow) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidWorkflowStatus) ||
		errors.Is(err, ErrRecordNotDropped) ||
		errors.Is(err, ErrStalePlan) ||
		errors.Is(err, ErrMissingAgency)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
