/*
errors.go - Centralized error types for the payment engine

PURPOSE:
  All shared error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context so callers
  can classify failures with errors.Is without knowing the domain.

ERROR CATEGORIES:
  1. Client errors - invalid input, missing records, state conflicts
  2. Item errors - a single unit of a batch/run failed (recorded, not raised)
  3. Infrastructure errors - everything else (storage, queue)

USAGE:
  var ErrBatchNotFound = fmt.Errorf("batch %w", generic.ErrNotFound)

  if generic.IsNotFound(err) {
      // 404
  }

SEE ALSO:
  - bulkpay/errors.go: Batch-specific errors
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record doesn't exist in the caller's organization.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when a request violates a business rule.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict is returned when a state transition is not allowed from the current state.
	ErrConflict = errors.New("conflict")

	// ErrQueueClosed is returned when work is submitted to a stopped queue.
	ErrQueueClosed = errors.New("queue closed")

	// ErrQueueFull is returned when a queue has no room for another job.
	ErrQueueFull = errors.New("queue full")

	// ErrAlreadyQueued is returned when the same job is still waiting or running.
	ErrAlreadyQueued = errors.New("already queued")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ItemError records the failure of one item of a batch or run.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error indicates a disallowed state transition.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
