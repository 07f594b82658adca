/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch on sentinels with errors.Is() and extract context from
  the structured variants with errors.As().

ERROR CATEGORIES:
  1. Input errors - Malformed or out-of-domain caller input
  2. Domain rule errors - Legal input refused by a business rule
  3. Idempotency / concurrency - Detected replays and lock conflicts
  4. Skip conditions - Batch items counted as skipped, not failed

USAGE:
  if errors.Is(err, timeoff.ErrInsufficientBalance) {
      var ib *timeoff.InsufficientBalanceError
      errors.As(err, &ib)
      ...
  }

SEE ALSO:
  - projector.go: Raises invariant and idempotency errors
  - request.go: Raises transition and balance errors
*/
package timeoff

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRange is returned by the duration calculator for
	// zero-length or inverted time ranges.
	ErrInvalidRange = errors.New("invalid time range")

	// ErrInvalidTransition is returned when a request transition is not
	// legal from the request's current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidEffectiveDate is returned when a new policy version's
	// effectiveFrom precedes the current version's effectiveFrom.
	ErrInvalidEffectiveDate = errors.New("invalid effective date")

	// ErrNoEffectiveVersion is returned when no policy version covers the
	// requested date. Batch runs count this as a skip.
	ErrNoEffectiveVersion = errors.New("no effective policy version")

	// ErrNotAccruable is returned when the resolved version carries no
	// accrual rules (unlimited policies). Batch runs count this as a skip.
	ErrNotAccruable = errors.New("policy version is not accruable")

	// ErrInsufficientBalance is returned when a hold would leave the
	// balance below the policy's floor.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceInvariantViolated is returned when a candidate ledger
	// delta would break the balance floor. The whole transaction rolls
	// back; no partial write occurs.
	ErrBalanceInvariantViolated = errors.New("balance invariant violated")

	// ErrDuplicateIdempotencyKey is returned by stores when an entry with
	// the same (sourceType, sourceId, entryType) already exists. Callers
	// treat it as a successful replay.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrencyConflict is returned on lock wait timeouts or
	// optimistic version mismatches. Retryable a bounded number of times.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoActiveAssignment is returned on submit when no assignment
	// covers the request's start date.
	ErrNoActiveAssignment = errors.New("no active assignment")

	// ErrOverlappingRequest is returned on submit when another submitted
	// or approved request overlaps the same policy and interval.
	ErrOverlappingRequest = errors.New("overlapping request")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input. Not retried, surfaced to the
// caller as-is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s: available %d min, requested %d min",
		e.Key.EmployeeID, e.Key.PolicyID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvariantError reports a floor violation detected inside the lock scope,
// after applying the candidate delta but before commit.
type InvariantError struct {
	Key       BalanceKey
	Available int64
	Floor     int64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("balance invariant violated for %s/%s: available %d min, floor %d min",
		e.Key.EmployeeID, e.Key.PolicyID, e.Available, e.Floor)
}

func (e *InvariantError) Unwrap() error {
	return ErrBalanceInvariantViolated
}

// TransitionError reports an illegal request state transition.
type TransitionError struct {
	RequestID RequestID
	From      RequestState
	To        RequestState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot transition %s -> %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// EffectiveDateError reports a version creation with a regressing
// effectiveFrom.
type EffectiveDateError struct {
	PolicyID      PolicyID
	Requested     time.Time
	CurrentActive time.Time
}

func (e *EffectiveDateError) Error() string {
	return fmt.Sprintf("policy %s: effectiveFrom %s precedes current version's %s",
		e.PolicyID, e.Requested.Format("2006-01-02"), e.CurrentActive.Format("2006-01-02"))
}

func (e *EffectiveDateError) Unwrap() error {
	return ErrInvalidEffectiveDate
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsSkip returns true for conditions batch runs count as skipped rather
// than failed.
func IsSkip(err error) bool {
	return errors.Is(err, ErrNoEffectiveVersion) ||
		errors.Is(err, ErrNotAccruable)
}

// IsClientError returns true if the error is due to invalid client input
// or a business-rule refusal, as opposed to a store failure.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidEffectiveDate) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrBalanceInvariantViolated) ||
		errors.Is(err, ErrNoActiveAssignment) ||
		errors.Is(err, ErrOverlappingRequest)
}
