/*
service.go - Booking orchestration (admission + ledger + index as one unit)

PURPOSE:
  The Service is the only entry point adapters call. It turns a request into
  either a stored booking or a typed rejection, keeping the ledger and the
  availability index consistent.

CREATE FLOW:
  ┌──────────────────────────────────────────────────────────────────────┐
  │ lock guest:<name> + unit:<id>                                        │
  │   WithTx:                                                            │
  │     EvaluateCreate ──rejected──▶ RejectedError (rollback, no writes) │
  │     Ledger.Insert                                                    │
  │     Index.MarkOccupied(check-in .. check-out-1)                      │
  │     AuditLog.AppendAudit(booking_created)                            │
  │ unlock                                                               │
  └──────────────────────────────────────────────────────────────────────┘

EXTEND FLOW:
  Same shape, locked on unit:<id> only. The booking is re-read inside the
  transaction so the evaluated night count is the one being updated.

CONCURRENCY:
  Two layers keep check-then-write atomic:
  1. KeyLocker serializes requests touching the same unit or guest in this
     process. The guest key is needed because GuestAlreadyBooked spans units.
  2. Store.WithTx makes the writes all-or-nothing and, for SQL stores,
     database constraints catch anything that slips past (multi-process).

  A ConflictError coming out of a transaction means layer 1 failed (or a
  second process wrote). It is logged at error level and returned; the
  transaction has already been rolled back.

  Rejections are never retried here.

SEE ALSO:
  - policy.go: The rules
  - store.go: Store / Tx contracts
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service orchestrates admission and persistence of bookings.
type Service struct {
	store Store
	locks *KeyLocker
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the clock used for audit timestamps and calendar defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		locks: NewKeyLocker(),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// COMMANDS
// =============================================================================

// CreateBooking admits and stores a new booking.
// Returns *RejectedError (ErrBookingRejected) when a rule fails.
func (s *Service) CreateBooking(ctx context.Context, req Request) (Booking, error) {
	if err := req.Validate(); err != nil {
		return Booking{}, err
	}

	unlock := s.locks.Lock(guestKey(req.GuestName), unitKey(req.UnitID))
	defer unlock()

	var created Booking
	err := s.store.WithTx(ctx, func(tx Tx) error {
		decision, err := EvaluateCreate(ctx, tx, req)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return &RejectedError{Op: OpCreate, Reason: decision.Reason}
		}

		b := req.Booking()
		id, err := tx.Insert(ctx, b)
		if err != nil {
			return err
		}
		b.ID = id

		if err := tx.MarkOccupied(ctx, b.UnitID, b.Nights()); err != nil {
			return err
		}

		created = b
		return tx.AppendAudit(ctx, s.auditEntry(AuditBookingCreated, b, map[string]any{
			"check_in_date":    b.CheckInDate.String(),
			"number_of_nights": b.NumberOfNights,
		}))
	})
	if err != nil {
		s.logFailure(ctx, "create", err,
			slog.String("guest_name", req.GuestName),
			slog.String("unit_id", req.UnitID),
			slog.String("check_in_date", req.CheckInDate.String()),
			slog.Int("number_of_nights", req.NumberOfNights),
		)
		return Booking{}, err
	}

	s.log.InfoContext(ctx, "booking created",
		slog.Int64("booking_id", int64(created.ID)),
		slog.String("guest_name", created.GuestName),
		slog.String("unit_id", created.UnitID),
		slog.String("check_in_date", created.CheckInDate.String()),
		slog.Int("number_of_nights", created.NumberOfNights),
	)
	return created, nil
}

// ExtendBooking appends additional nights after the current check-out.
// Returns ErrBookingNotFound for an unknown id and *RejectedError
// (ErrExtensionRejected) when the following nights are taken.
func (s *Service) ExtendBooking(ctx context.Context, id BookingID, additional int) (Booking, error) {
	if additional < 1 {
		return Booking{}, &ValidationError{Field: "number_of_nights", Message: "must be at least 1"}
	}
	if additional > MaxNights {
		return Booking{}, &ValidationError{Field: "number_of_nights", Message: fmt.Sprintf("must be at most %d", MaxNights)}
	}

	// The unit is needed to pick the lock; it never changes once booked.
	existing, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Booking{}, fmt.Errorf("find booking %d: %w", id, err)
	}
	if existing == nil {
		return Booking{}, ErrBookingNotFound
	}

	unlock := s.locks.Lock(unitKey(existing.UnitID))
	defer unlock()

	var extended Booking
	err = s.store.WithTx(ctx, func(tx Tx) error {
		current, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrBookingNotFound
		}
		if err := ValidateStay(current.CheckInDate, current.NumberOfNights+additional); err != nil {
			return err
		}

		decision, err := EvaluateExtend(ctx, tx, *current, additional)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return &RejectedError{Op: OpExtend, Reason: decision.Reason}
		}

		start, _ := ExtensionRange(*current, additional)
		nights := current.NumberOfNights + additional
		if err := tx.UpdateNights(ctx, id, nights); err != nil {
			return err
		}
		if err := tx.MarkOccupied(ctx, current.UnitID, Nights(start, additional)); err != nil {
			return err
		}

		extended = *current
		extended.NumberOfNights = nights
		return tx.AppendAudit(ctx, s.auditEntry(AuditBookingExtended, extended, map[string]any{
			"previous_nights":   current.NumberOfNights,
			"additional_nights": additional,
			"number_of_nights":  nights,
		}))
	})
	if err != nil {
		s.logFailure(ctx, "extend", err,
			slog.Int64("booking_id", int64(id)),
			slog.String("unit_id", existing.UnitID),
			slog.Int("additional_nights", additional),
		)
		return Booking{}, err
	}

	s.log.InfoContext(ctx, "booking extended",
		slog.Int64("booking_id", int64(extended.ID)),
		slog.String("unit_id", extended.UnitID),
		slog.Int("number_of_nights", extended.NumberOfNights),
	)
	return extended, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// GetBooking returns a booking by id.
func (s *Service) GetBooking(ctx context.Context, id BookingID) (Booking, error) {
	b, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Booking{}, fmt.Errorf("find booking %d: %w", id, err)
	}
	if b == nil {
		return Booking{}, ErrBookingNotFound
	}
	return *b, nil
}

// UnitCalendar lists the occupied nights of unitID in [from, to).
func (s *Service) UnitCalendar(ctx context.Context, unitID string, from, to Date) (Calendar, error) {
	if unitID == "" {
		return Calendar{}, &ValidationError{Field: "unit_id", Message: "must not be empty"}
	}
	if to.After(LastCheckOut) {
		to = LastCheckOut
	}
	if !from.Before(to) {
		return Calendar{}, &ValidationError{Field: "to", Message: "must be after from"}
	}

	occupied, err := s.store.OccupiedDates(ctx, unitID, from, to)
	if err != nil {
		return Calendar{}, fmt.Errorf("list occupied dates: %w", err)
	}
	if occupied == nil {
		occupied = []Date{}
	}
	return Calendar{
		UnitID:        unitID,
		From:          from,
		To:            to,
		Occupied:      occupied,
		OccupancyRate: occupancyRate(len(occupied), DaysBetween(from, to)),
	}, nil
}

// DefaultCalendarWindow is the calendar span used when the caller gives none.
const DefaultCalendarWindow = 30

// CalendarWindow returns [today, today+DefaultCalendarWindow) by the service clock.
func (s *Service) CalendarWindow() (Date, Date) {
	today := DateOf(s.now().UTC())
	return today, today.AddDays(DefaultCalendarWindow)
}

// History returns the audit trail of a booking.
func (s *Service) History(ctx context.Context, id BookingID) ([]AuditEntry, error) {
	if _, err := s.GetBooking(ctx, id); err != nil {
		return nil, err
	}
	entries, err := s.store.AuditTrail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load audit trail for %d: %w", id, err)
	}
	return entries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) auditEntry(action AuditAction, b Booking, payload map[string]any) AuditEntry {
	return AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Action:    action,
		BookingID: b.ID,
		GuestName: b.GuestName,
		UnitID:    b.UnitID,
		Payload:   payload,
	}
}

func (s *Service) logFailure(ctx context.Context, op string, err error, attrs ...slog.Attr) {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		s.log.LogAttrs(ctx, slog.LevelError, "availability invariant violated",
			append(attrs, slog.String("op", op), slog.String("error", err.Error()))...)
	case IsClientError(err) || IsNotFound(err):
		reason, _ := ReasonOf(err)
		s.log.LogAttrs(ctx, slog.LevelInfo, "booking "+op+" refused",
			append(attrs, slog.String("reason", reason.String()), slog.String("error", err.Error()))...)
	default:
		s.log.LogAttrs(ctx, slog.LevelError, "booking "+op+" failed",
			append(attrs, slog.String("error", err.Error()))...)
	}
}
