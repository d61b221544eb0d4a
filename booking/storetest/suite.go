// Package storetest is the conformance suite every booking.Store runs.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/unit-booking/booking"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) booking.Store

var may21 = booking.NewDate(2023, time.May, 21)

func guestA(unit string) booking.Booking {
	return booking.Booking{GuestName: "GuestA", UnitID: unit, CheckInDate: may21, NumberOfNights: 5}
}

// Run exercises the Ledger, Index, AuditLog and WithTx contracts.
func Run(t *testing.T, newStore Factory) {
	t.Run("Ledger_InsertAssignsSequentialIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id1, err := s.Insert(ctx, guestA("1"))
		require.NoError(t, err)
		id2, err := s.Insert(ctx, booking.Booking{GuestName: "GuestB", UnitID: "1", CheckInDate: may21.AddDays(5), NumberOfNights: 2})
		require.NoError(t, err)

		assert.Equal(t, booking.BookingID(1), id1)
		assert.Greater(t, id2, id1)

		got, err := s.FindByID(ctx, id1)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, id1, got.ID)
		assert.Equal(t, "GuestA", got.GuestName)
		assert.Equal(t, "1", got.UnitID)
		assert.True(t, got.CheckInDate.Equal(may21), "check-in %s", got.CheckInDate)
		assert.Equal(t, 5, got.NumberOfNights)
	})

	t.Run("Ledger_LookupsReturnNilWhenAbsent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		b, err := s.FindByID(ctx, 0)
		require.NoError(t, err)
		assert.Nil(t, b)

		b, err = s.FindByGuest(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, b)

		b, err = s.FindByGuestAndUnit(ctx, "nobody", "1")
		require.NoError(t, err)
		assert.Nil(t, b)
	})

	t.Run("Ledger_FindByGuestSpansUnits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Insert(ctx, guestA("1"))
		require.NoError(t, err)

		b, err := s.FindByGuest(ctx, "GuestA")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, "1", b.UnitID)

		b, err = s.FindByGuestAndUnit(ctx, "GuestA", "2")
		require.NoError(t, err)
		assert.Nil(t, b)

		b, err = s.FindByGuestAndUnit(ctx, "GuestA", "1")
		require.NoError(t, err)
		assert.NotNil(t, b)
	})

	t.Run("Ledger_SecondBookingForGuestIsConflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Insert(ctx, guestA("1"))
		require.NoError(t, err)

		_, err = s.Insert(ctx, guestA("2"))
		assert.ErrorIs(t, err, booking.ErrConflict)
	})

	t.Run("Ledger_UpdateNights", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id, err := s.Insert(ctx, guestA("1"))
		require.NoError(t, err)

		require.NoError(t, s.UpdateNights(ctx, id, 9))
		got, err := s.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 9, got.NumberOfNights)

		err = s.UpdateNights(ctx, id+100, 3)
		assert.ErrorIs(t, err, booking.ErrBookingNotFound)
	})

	t.Run("Index_IsRangeFree", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MarkOccupied(ctx, "1", booking.Nights(may21, 5)))

		cases := []struct {
			name  string
			unit  string
			start booking.Date
			end   booking.Date
			free  bool
		}{
			{"same range", "1", may21, may21.AddDays(5), false},
			{"starts inside", "1", may21.AddDays(4), may21.AddDays(8), false},
			{"ends inside", "1", may21.AddDays(-3), may21.AddDays(1), false},
			{"starts at checkout", "1", may21.AddDays(5), may21.AddDays(9), true},
			{"ends at checkin", "1", may21.AddDays(-3), may21, true},
			{"empty range", "1", may21, may21, true},
			{"other unit", "2", may21, may21.AddDays(5), true},
		}
		for _, tc := range cases {
			free, err := s.IsRangeFree(ctx, tc.unit, tc.start, tc.end)
			require.NoError(t, err, tc.name)
			assert.Equal(t, tc.free, free, tc.name)
		}
	})

	t.Run("Index_MarkOccupiedConflictWritesNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MarkOccupied(ctx, "1", []booking.Date{may21}))

		// may21-1 would be fine on its own, may21 collides.
		err := s.MarkOccupied(ctx, "1", []booking.Date{may21.AddDays(-1), may21})
		var conflict *booking.ConflictError
		require.True(t, errors.As(err, &conflict), "want ConflictError, got %v", err)
		assert.Equal(t, "1", conflict.UnitID)
		assert.True(t, conflict.Date.Equal(may21))

		free, err := s.IsRangeFree(ctx, "1", may21.AddDays(-1), may21)
		require.NoError(t, err)
		assert.True(t, free, "partial batch must not be written")
	})

	t.Run("Index_OccupiedDatesSortedAndBounded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.MarkOccupied(ctx, "1", []booking.Date{may21.AddDays(3), may21, may21.AddDays(10)}))
		require.NoError(t, s.MarkOccupied(ctx, "2", []booking.Date{may21.AddDays(1)}))

		dates, err := s.OccupiedDates(ctx, "1", may21, may21.AddDays(10))
		require.NoError(t, err)
		require.Len(t, dates, 2)
		assert.True(t, dates[0].Equal(may21))
		assert.True(t, dates[1].Equal(may21.AddDays(3)))
	})

	t.Run("WithTx_RollsBackOnError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.WithTx(ctx, func(tx booking.Tx) error {
			id, err := tx.Insert(ctx, guestA("1"))
			if err != nil {
				return err
			}
			if err := tx.MarkOccupied(ctx, "1", booking.Nights(may21, 5)); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, booking.AuditEntry{
				ID: "rollback-entry", Timestamp: time.Now().UTC(), Action: booking.AuditBookingCreated, BookingID: id,
			}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		b, err := s.FindByGuest(ctx, "GuestA")
		require.NoError(t, err)
		assert.Nil(t, b)

		free, err := s.IsRangeFree(ctx, "1", may21, may21.AddDays(5))
		require.NoError(t, err)
		assert.True(t, free)
	})

	t.Run("WithTx_RollsBackOnPanic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		assert.Panics(t, func() {
			_ = s.WithTx(ctx, func(tx booking.Tx) error {
				if _, err := tx.Insert(ctx, guestA("1")); err != nil {
					return err
				}
				if err := tx.MarkOccupied(ctx, "1", booking.Nights(may21, 2)); err != nil {
					return err
				}
				panic("mid-transaction")
			})
		})

		b, err := s.FindByGuest(ctx, "GuestA")
		require.NoError(t, err)
		assert.Nil(t, b, "ledger row must not outlive the panic")

		free, err := s.IsRangeFree(ctx, "1", may21, may21.AddDays(2))
		require.NoError(t, err)
		assert.True(t, free)

		// The store is usable again afterwards.
		_, err = s.Insert(ctx, guestA("1"))
		assert.NoError(t, err)
	})

	t.Run("Index_NightsAtEndOfCalendar", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		last := booking.LastCheckOut

		require.NoError(t, s.MarkOccupied(ctx, "1", booking.Nights(last.AddDays(-2), 2)))

		free, err := s.IsRangeFree(ctx, "1", last.AddDays(-3), last)
		require.NoError(t, err)
		assert.False(t, free)

		dates, err := s.OccupiedDates(ctx, "1", last.AddDays(-30), last)
		require.NoError(t, err)
		require.Len(t, dates, 2)
		assert.Equal(t, "9999-12-29", dates[0].String())
		assert.Equal(t, "9999-12-30", dates[1].String())
	})

	t.Run("WithTx_CommitsAndSeesOwnWrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var id booking.BookingID
		err := s.WithTx(ctx, func(tx booking.Tx) error {
			var err error
			id, err = tx.Insert(ctx, guestA("1"))
			if err != nil {
				return err
			}
			if err := tx.MarkOccupied(ctx, "1", booking.Nights(may21, 5)); err != nil {
				return err
			}
			free, err := tx.IsRangeFree(ctx, "1", may21, may21.AddDays(1))
			if err != nil {
				return err
			}
			if free {
				return errors.New("own mark not visible inside transaction")
			}
			got, err := tx.FindByID(ctx, id)
			if err != nil {
				return err
			}
			if got == nil {
				return errors.New("own insert not visible inside transaction")
			}
			return nil
		})
		require.NoError(t, err)

		got, err := s.FindByID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})

	t.Run("AuditLog_TrailInOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2023, time.May, 21, 10, 0, 0, 0, time.UTC)

		require.NoError(t, s.AppendAudit(ctx, booking.AuditEntry{
			ID: "a-1", Timestamp: base, Action: booking.AuditBookingCreated, BookingID: 7,
			GuestName: "GuestA", UnitID: "1", Payload: map[string]any{"number_of_nights": 5},
		}))
		require.NoError(t, s.AppendAudit(ctx, booking.AuditEntry{
			ID: "a-2", Timestamp: base.Add(time.Hour), Action: booking.AuditBookingExtended, BookingID: 7,
			GuestName: "GuestA", UnitID: "1",
		}))
		require.NoError(t, s.AppendAudit(ctx, booking.AuditEntry{
			ID: "b-1", Timestamp: base, Action: booking.AuditBookingCreated, BookingID: 8,
		}))

		trail, err := s.AuditTrail(ctx, 7)
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.Equal(t, "a-1", trail[0].ID)
		assert.Equal(t, booking.AuditBookingCreated, trail[0].Action)
		assert.Equal(t, "a-2", trail[1].ID)
		assert.Equal(t, booking.AuditBookingExtended, trail[1].Action)
		assert.Equal(t, "GuestA", trail[0].GuestName)
		assert.NotNil(t, trail[0].Payload)
	})
}
