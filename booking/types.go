/*
types.go - Core domain types for unit bookings

PURPOSE:
  Booking is the authoritative record of a guest holding a unit for a run of
  nights. The availability index holds one mark per occupied (unit, night);
  it never says WHO holds a night, only THAT it is held. The ledger is the
  source of truth for "why".

LIFECYCLE:
  Created:  CreateBooking inserts the row and marks every night.
  Extended: ExtendBooking grows NumberOfNights and marks the appended nights.
  There is no cancellation, check-out or status field.

DATE SEMANTICS:
  CheckInDate is the first occupied night.
  CheckOutDate() is exclusive: the first night after the stay.

SEE ALSO:
  - store.go: Ledger and Index contracts
  - policy.go: Admission rules
  - service.go: CreateBooking / ExtendBooking orchestration
*/
package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxNights bounds the length of one stay, extensions included.
const MaxNights = 365

// BookingID is the stable external handle of a booking, assigned on insert.
type BookingID int64

// =============================================================================
// BOOKING
// =============================================================================

// Booking is one row of the ledger.
type Booking struct {
	ID             BookingID
	GuestName      string
	UnitID         string
	CheckInDate    Date
	NumberOfNights int
}

// CheckOutDate is the exclusive end of the stay.
func (b Booking) CheckOutDate() Date {
	return b.CheckInDate.AddDays(b.NumberOfNights)
}

// Nights returns every occupied night of the booking.
func (b Booking) Nights() []Date {
	return Nights(b.CheckInDate, b.NumberOfNights)
}

// =============================================================================
// REQUEST
// =============================================================================

// Request is an already-parsed create request.
type Request struct {
	GuestName      string
	UnitID         string
	CheckInDate    Date
	NumberOfNights int
}

// Validate checks the shape of the request. Business rules live in policy.go.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.GuestName) == "":
		return &ValidationError{Field: "guest_name", Message: "must not be empty"}
	case strings.TrimSpace(r.UnitID) == "":
		return &ValidationError{Field: "unit_id", Message: "must not be empty"}
	case r.CheckInDate.IsZero():
		return &ValidationError{Field: "check_in_date", Message: "is required"}
	case r.NumberOfNights < 1:
		return &ValidationError{Field: "number_of_nights", Message: "must be at least 1"}
	}
	return ValidateStay(r.CheckInDate, r.NumberOfNights)
}

// ValidateStay bounds a stay of nights starting at checkIn: at most MaxNights
// long and checked out no later than LastCheckOut.
func ValidateStay(checkIn Date, nights int) error {
	if nights > MaxNights {
		return &ValidationError{Field: "number_of_nights", Message: fmt.Sprintf("must be at most %d", MaxNights)}
	}
	if checkIn.AddDays(nights).After(LastCheckOut) {
		return &ValidationError{Field: "number_of_nights", Message: "stay must end by " + LastCheckOut.String()}
	}
	return nil
}

// Booking converts the request into an unsaved booking.
func (r Request) Booking() Booking {
	return Booking{
		GuestName:      r.GuestName,
		UnitID:         r.UnitID,
		CheckInDate:    r.CheckInDate,
		NumberOfNights: r.NumberOfNights,
	}
}

// =============================================================================
// AUDIT LOG - Append-only record of state changes
// =============================================================================

// AuditAction names a state change recorded in the audit log.
type AuditAction string

const (
	AuditBookingCreated  AuditAction = "booking_created"
	AuditBookingExtended AuditAction = "booking_extended"
)

// AuditEntry records what happened to a booking and when.
// Entries are written in the same transaction as the change they describe.
type AuditEntry struct {
	ID        string
	Timestamp time.Time
	Action    AuditAction
	BookingID BookingID
	GuestName string
	UnitID    string
	Payload   map[string]any
}

// =============================================================================
// CALENDAR - Read model over the availability index
// =============================================================================

// Calendar lists the occupied nights of a unit within [From, To).
type Calendar struct {
	UnitID        string
	From          Date
	To            Date
	Occupied      []Date
	OccupancyRate decimal.Decimal // occupied nights / nights in window, 4 places
}

func occupancyRate(occupied, total int) decimal.Decimal {
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(occupied)).
		DivRound(decimal.NewFromInt(int64(total)), 4)
}
