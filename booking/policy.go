/*
policy.go - Admission rules for create and extend

PURPOSE:
  Pure decision functions. They read from a View and never write. The
  service runs them inside the same transaction as the write they guard.

CREATE RULES (fixed order, first failure wins):
  1. DuplicateGuestUnit - the guest already booked this unit
  2. GuestAlreadyBooked - the guest holds a booking on ANY unit
  3. UnitUnavailable    - some night in [check-in, check-out) is marked

  Rule 2 makes a guest single-booking across the whole system, not only
  on overlapping dates. That is the existing business rule and is kept as is.
  Rule order matters because each reason has its own user-facing message.

EXTEND RULE:
  The appended nights start at the CURRENT check-out
  (check-in + nights before the extension). Allowed iff that range is free.
  Guest rules are not re-checked: they held at creation and extending does
  not change guest or unit.

SEE ALSO:
  - service.go: Runs these inside WithTx
  - errors.go: RejectedError carries the Reason
*/
package booking

import (
	"context"
	"fmt"
)

// =============================================================================
// REASON
// =============================================================================

// Reason is why an admission check failed.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonDuplicateGuestUnit
	ReasonGuestAlreadyBooked
	ReasonUnitUnavailable
)

var reasonCodes = map[Reason]string{
	ReasonNone:               "",
	ReasonDuplicateGuestUnit: "duplicate_guest_unit",
	ReasonGuestAlreadyBooked: "guest_already_booked",
	ReasonUnitUnavailable:    "unit_unavailable",
}

var reasonMessages = map[Reason]string{
	ReasonNone:               "OK",
	ReasonDuplicateGuestUnit: "The given guest name cannot book the same unit multiple times",
	ReasonGuestAlreadyBooked: "The same guest cannot be in multiple units at the same time",
	ReasonUnitUnavailable:    "For the given check-in date, the unit is already occupied",
}

// Code is the stable machine-readable identifier.
func (r Reason) Code() string { return reasonCodes[r] }

// Message is the user-facing text.
func (r Reason) Message() string { return reasonMessages[r] }

func (r Reason) String() string {
	if r == ReasonNone {
		return "none"
	}
	return r.Code()
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	Reason  Reason
}

var allow = Decision{Allowed: true}

func reject(r Reason) Decision {
	return Decision{Reason: r}
}

// =============================================================================
// CREATE
// =============================================================================

// EvaluateCreate decides whether candidate may be booked.
func EvaluateCreate(ctx context.Context, v View, candidate Request) (Decision, error) {
	same, err := v.FindByGuestAndUnit(ctx, candidate.GuestName, candidate.UnitID)
	if err != nil {
		return Decision{}, fmt.Errorf("check guest and unit: %w", err)
	}
	if same != nil {
		return reject(ReasonDuplicateGuestUnit), nil
	}

	held, err := v.FindByGuest(ctx, candidate.GuestName)
	if err != nil {
		return Decision{}, fmt.Errorf("check guest bookings: %w", err)
	}
	if held != nil {
		return reject(ReasonGuestAlreadyBooked), nil
	}

	start := candidate.CheckInDate
	end := start.AddDays(candidate.NumberOfNights)
	free, err := v.IsRangeFree(ctx, candidate.UnitID, start, end)
	if err != nil {
		return Decision{}, fmt.Errorf("check unit availability: %w", err)
	}
	if !free {
		return reject(ReasonUnitUnavailable), nil
	}

	return allow, nil
}

// =============================================================================
// EXTEND
// =============================================================================

// ExtensionRange returns the nights an extension would append: [checkout, checkout+additional).
func ExtensionRange(existing Booking, additional int) (start, end Date) {
	start = existing.CheckInDate.AddDays(existing.NumberOfNights)
	return start, start.AddDays(additional)
}

// EvaluateExtend decides whether existing may grow by additional nights.
func EvaluateExtend(ctx context.Context, v View, existing Booking, additional int) (Decision, error) {
	start, end := ExtensionRange(existing, additional)
	free, err := v.IsRangeFree(ctx, existing.UnitID, start, end)
	if err != nil {
		return Decision{}, fmt.Errorf("check unit availability: %w", err)
	}
	if !free {
		return reject(ReasonUnitUnavailable), nil
	}
	return allow, nil
}
