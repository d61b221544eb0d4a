package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/unit-booking/booking"
	"github.com/warp/unit-booking/booking/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var may21 = booking.NewDate(2023, time.May, 21)

func req(guest, unit string, checkIn booking.Date, nights int) booking.Request {
	return booking.Request{GuestName: guest, UnitID: unit, CheckInDate: checkIn, NumberOfNights: nights}
}

// seed writes a booking straight to the store, bypassing admission.
func seed(t *testing.T, s *store.Memory, r booking.Request) booking.Booking {
	t.Helper()
	ctx := context.Background()
	b := r.Booking()
	id, err := s.Insert(ctx, b)
	require.NoError(t, err)
	require.NoError(t, s.MarkOccupied(ctx, b.UnitID, b.Nights()))
	b.ID = id
	return b
}

// =============================================================================
// CREATE RULES
// =============================================================================

func TestEvaluateCreate_EmptyStore_Allowed(t *testing.T) {
	s := store.NewMemory()

	d, err := booking.EvaluateCreate(context.Background(), s, req("GuestA", "1", may21, 5))

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, booking.ReasonNone, d.Reason)
}

func TestEvaluateCreate_RuleOrder(t *testing.T) {
	// GIVEN: GuestA holds unit 1 for May 21-25
	// WHEN:  each candidate is evaluated
	// THEN:  the first failing rule in fixed order is reported

	s := store.NewMemory()
	seed(t, s, req("GuestA", "1", may21, 5))

	cases := []struct {
		name      string
		candidate booking.Request
		allowed   bool
		reason    booking.Reason
	}{
		{
			// Matches all three rules; the duplicate wins.
			name:      "same guest same unit same dates",
			candidate: req("GuestA", "1", may21, 5),
			reason:    booking.ReasonDuplicateGuestUnit,
		},
		{
			name:      "same guest other unit",
			candidate: req("GuestA", "2", may21, 5),
			reason:    booking.ReasonGuestAlreadyBooked,
		},
		{
			// Far-away dates still rejected: the guest rule is global.
			name:      "same guest other unit next year",
			candidate: req("GuestA", "2", may21.AddDays(365), 1),
			reason:    booking.ReasonGuestAlreadyBooked,
		},
		{
			name:      "other guest same check-in",
			candidate: req("GuestB", "1", may21, 5),
			reason:    booking.ReasonUnitUnavailable,
		},
		{
			name:      "other guest check-in strictly inside",
			candidate: req("GuestB", "1", may21.AddDays(1), 5),
			reason:    booking.ReasonUnitUnavailable,
		},
		{
			name:      "other guest range covering the stay",
			candidate: req("GuestB", "1", may21.AddDays(-2), 10),
			reason:    booking.ReasonUnitUnavailable,
		},
		{
			name:      "other guest from checkout day",
			candidate: req("GuestB", "1", may21.AddDays(5), 3),
			allowed:   true,
		},
		{
			name:      "other guest ending on check-in day",
			candidate: req("GuestB", "1", may21.AddDays(-3), 3),
			allowed:   true,
		},
		{
			name:      "other guest other unit",
			candidate: req("GuestB", "2", may21, 5),
			allowed:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := booking.EvaluateCreate(context.Background(), s, tc.candidate)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

// =============================================================================
// EXTEND RULE
// =============================================================================

func TestEvaluateExtend_AppendsAfterCurrentCheckout(t *testing.T) {
	s := store.NewMemory()
	a := seed(t, s, req("GuestA", "1", may21, 5))

	start, end := booking.ExtensionRange(a, 4)
	assert.Equal(t, "2023-05-26", start.String())
	assert.Equal(t, "2023-05-30", end.String())

	d, err := booking.EvaluateExtend(context.Background(), s, a, 4)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEvaluateExtend_FollowingNightsTaken_Rejected(t *testing.T) {
	// GIVEN: GuestB starts on unit 1 two nights after GuestA checks out
	// WHEN:  GuestA asks for 3 more nights (overlaps GuestB's first night)
	// THEN:  UnitUnavailable; asking for 2 is fine

	s := store.NewMemory()
	a := seed(t, s, req("GuestA", "1", may21, 5))
	seed(t, s, req("GuestB", "1", may21.AddDays(7), 3))

	d, err := booking.EvaluateExtend(context.Background(), s, a, 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, booking.ReasonUnitUnavailable, d.Reason)

	d, err = booking.EvaluateExtend(context.Background(), s, a, 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestReason_MessagesAndCodes(t *testing.T) {
	assert.Equal(t, "The given guest name cannot book the same unit multiple times", booking.ReasonDuplicateGuestUnit.Message())
	assert.Equal(t, "The same guest cannot be in multiple units at the same time", booking.ReasonGuestAlreadyBooked.Message())
	assert.Equal(t, "For the given check-in date, the unit is already occupied", booking.ReasonUnitUnavailable.Message())
	assert.Equal(t, "unit_unavailable", booking.ReasonUnitUnavailable.Code())
	assert.Equal(t, "none", booking.ReasonNone.String())
}
