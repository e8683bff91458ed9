/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error the engine returns belongs to exactly one kind, so callers
  can branch on the kind without knowing the specific failure.

ERROR KINDS:
  1. ErrNotFound     - A referenced user, treatment or appointment is missing
  2. ErrConflict     - The request collides with existing state
  3. ErrInvalidInput - The request is malformed
  4. ErrAlreadyFinal - The target state was already reached

USAGE:
  if errors.Is(err, generic.ErrConflict) {
      // slot taken, duplicate phone, ...
  }
  if errors.Is(err, generic.ErrAlreadyPaid) {
      // the specific failure
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - booking/errors.go: Orchestrator-level errors built on these kinds
*/
package generic

import (
	"errors"
)

// =============================================================================
// KINDS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrAlreadyFinal = errors.New("already final")
)

// =============================================================================
// STRUCTURED ERROR - A message tagged with its kind
// =============================================================================

// Error is a user-visible message tagged with one of the kinds above.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NewError builds a kind-tagged error.
func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// =============================================================================
// LEDGER ERRORS
// =============================================================================

var (
	ErrNonPositiveAmount    = NewError(ErrInvalidInput, "amount must be positive")
	ErrInvalidPaymentType   = NewError(ErrInvalidInput, "invalid payment type")
	ErrInvalidPaymentMethod = NewError(ErrInvalidInput, "invalid payment method")
	ErrMethodRequired       = NewError(ErrInvalidInput, "payment method is required for the remaining amount")
	ErrOverpayment          = NewError(ErrInvalidInput, "payment exceeds the remaining balance")
	ErrRefundExceedsPaid    = NewError(ErrInvalidInput, "credit amount exceeds the amount paid")
	ErrInsufficientCredit   = NewError(ErrInvalidInput, "insufficient credit balance")

	ErrAlreadyPaid     = NewError(ErrAlreadyFinal, "Payment already completed")
	ErrAlreadyCredited = NewError(ErrAlreadyFinal, "User has already been credited for this appointment")
)

// =============================================================================
// SLOT ERRORS
// =============================================================================

var (
	ErrInvalidDate      = NewError(ErrInvalidInput, "invalid date, expected YYYY-MM-DD")
	ErrInvalidClock     = NewError(ErrInvalidInput, "invalid time, expected HH:MM")
	ErrInvalidDuration  = NewError(ErrInvalidInput, "duration must be positive")
	ErrSlotPastMidnight = NewError(ErrInvalidInput, "slot must end by midnight")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error collides with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsAlreadyFinal returns true if the requested state was already reached.
func IsAlreadyFinal(err error) bool {
	return errors.Is(err, ErrAlreadyFinal)
}

// IsClientError returns true if the error is due to the request rather than
// the system, i.e. retrying the same request cannot succeed.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		IsNotFound(err) ||
		IsConflict(err) ||
		IsAlreadyFinal(err)
}
