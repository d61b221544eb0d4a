/*
store.go - Persistence contracts for the booking core

PURPOSE:
  Defines the interface between the admission logic and the database.
  Two logical stores share one transaction:

    Ledger: one row per booking (the "why")
    Index:  one mark per occupied (unit, night) (the "is it free")

  They are kept consistent by always being written in the same transaction.

KEY INTERFACES:
  Ledger:   Booking rows (insert, lookups, nights update)
  Index:    Availability marks (range probe, mark, list)
  AuditLog: Append-only change history
  Tx:       Everything above, bound to one transaction
  Store:    Tx outside a transaction + WithTx for atomic units of work

ATOMICITY:
  WithTx runs fn inside a transaction. If fn returns an error, nothing it
  wrote is visible afterwards. Policy evaluation runs INSIDE fn, so the
  read-check and the write see the same state.

IMPLEMENTATIONS:
  - booking/store/memory.go: In-memory, snapshot + rollback
  - store/sqlite/sqlite.go:  SQLite (default)
  - store/postgres/postgres.go: PostgreSQL, SERIALIZABLE + retry

SEE ALSO:
  - service.go: The only caller of WithTx
  - storetest/suite.go: Conformance suite every implementation runs
*/
package booking

import "context"

// =============================================================================
// LEDGER - Booking rows
// =============================================================================

// Ledger is the authoritative record of bookings. No delete.
// Find* methods return (nil, nil) when nothing matches.
type Ledger interface {
	// Insert assigns an id, stores the row and returns the id.
	Insert(ctx context.Context, b Booking) (BookingID, error)

	FindByGuestAndUnit(ctx context.Context, guestName, unitID string) (*Booking, error)

	// FindByGuest looks across all units.
	FindByGuest(ctx context.Context, guestName string) (*Booking, error)

	FindByID(ctx context.Context, id BookingID) (*Booking, error)

	// UpdateNights rewrites NumberOfNights. Returns ErrBookingNotFound for an unknown id.
	UpdateNights(ctx context.Context, id BookingID, nights int) error
}

// =============================================================================
// INDEX - Availability marks
// =============================================================================

// Index answers "is this unit free on these nights".
type Index interface {
	// IsRangeFree reports whether no mark exists for unitID in [start, end).
	IsRangeFree(ctx context.Context, unitID string, start, end Date) (bool, error)

	// MarkOccupied inserts one mark per date. Returns *ConflictError if any
	// (unit, date) is already marked; nothing is written in that case.
	MarkOccupied(ctx context.Context, unitID string, dates []Date) error

	// OccupiedDates lists marks for unitID in [from, to), ascending.
	OccupiedDates(ctx context.Context, unitID string, from, to Date) ([]Date, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// AuditTrail returns entries for a booking, oldest first.
	AuditTrail(ctx context.Context, id BookingID) ([]AuditEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// View is what admission rules read from.
type View interface {
	Ledger
	Index
}

// Tx is a unit of work bound to a single transaction.
type Tx interface {
	Ledger
	Index
	AuditLog
}

// Store exposes Tx outside a transaction plus atomic execution.
type Store interface {
	Tx

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
