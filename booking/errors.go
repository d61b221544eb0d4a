/*
errors.go - Centralized error types for the booking core

PURPOSE:
  All error types in one place. Adapters (HTTP, stores) pattern-match on these
  with errors.Is / errors.As to pick a status code and a user message.

ERROR CATEGORIES:
  1. Business rejections - RejectedError (create or extend), deterministic,
     returned to the caller, never retried.
  2. Lookup failures     - ErrBookingNotFound.
  3. Input errors        - ValidationError (wraps ErrInvalidRequest).
  4. Invariant breaches  - ConflictError: a mark already exists even though the
     policy said the range was free. Fatal to the request, rolls back the
     transaction, logged for investigation.

USAGE:
  b, err := svc.CreateBooking(ctx, req)
  if reason, ok := booking.ReasonOf(err); ok {
      // reason.Message() is the user-facing text
  }

SEE ALSO:
  - policy.go: Reason values
  - api/handlers.go: HTTP status mapping
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrBookingRejected is returned when a create request fails an admission rule.
	ErrBookingRejected = errors.New("booking rejected")

	// ErrExtensionRejected is returned when an extend request fails an admission rule.
	ErrExtensionRejected = errors.New("extension rejected")

	// ErrBookingNotFound is returned when a referenced booking id does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrConflict is returned when a write would break the one-mark-per-night
	// invariant. It should be unreachable while the locking discipline holds.
	ErrConflict = errors.New("availability conflict")

	// ErrInvalidRequest is returned for malformed input.
	ErrInvalidRequest = errors.New("invalid request")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Operation identifies which admission path produced a rejection.
type Operation string

const (
	OpCreate Operation = "create"
	OpExtend Operation = "extend"
)

// RejectedError is a business-rule failure carrying the reason that failed.
type RejectedError struct {
	Op     Operation
	Reason Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason.Message())
}

func (e *RejectedError) Unwrap() error {
	if e.Op == OpExtend {
		return ErrExtensionRejected
	}
	return ErrBookingRejected
}

// ConflictError reports a write that collided with existing state.
// Date is set for availability marks; GuestName for ledger uniqueness.
type ConflictError struct {
	UnitID    string
	Date      Date
	GuestName string
}

func (e *ConflictError) Error() string {
	if e.Date.IsZero() {
		return fmt.Sprintf("availability conflict: guest %q already holds a booking (unit %s)", e.GuestName, e.UnitID)
	}
	return fmt.Sprintf("availability conflict: unit %s already occupied on %s", e.UnitID, e.Date)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// ValidationError describes one invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// ReasonOf extracts the rejection reason, if err is a rejection.
func ReasonOf(err error) (Reason, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return ReasonNone, false
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrBookingRejected) ||
		errors.Is(err, ErrExtensionRejected) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsNotFound returns true if the error indicates a missing booking.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBookingNotFound)
}
