package booking_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/unit-booking/booking"
)

func TestDate_ParseAndFormat(t *testing.T) {
	d, err := booking.ParseDate("2023-05-21")
	require.NoError(t, err)
	assert.Equal(t, "2023-05-21", d.String())
	assert.True(t, d.Equal(booking.NewDate(2023, time.May, 21)))

	_, err = booking.ParseDate("21/05/2023")
	assert.Error(t, err)
}

func TestDate_DateOfDropsTimeOfDay(t *testing.T) {
	evening := time.Date(2023, time.May, 21, 23, 59, 0, 0, time.UTC)
	assert.True(t, booking.DateOf(evening).Equal(booking.NewDate(2023, time.May, 21)))
}

func TestDate_AddDaysCrossesMonth(t *testing.T) {
	d := booking.NewDate(2023, time.May, 30).AddDays(3)
	assert.Equal(t, "2023-06-02", d.String())
}

func TestDate_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Date booking.Date `json:"date"`
	}
	out, err := json.Marshal(wrapper{Date: booking.NewDate(2024, time.February, 29)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-02-29"}`, string(out))

	var in wrapper
	require.NoError(t, json.Unmarshal(out, &in))
	assert.Equal(t, "2024-02-29", in.Date.String())

	assert.Error(t, json.Unmarshal([]byte(`{"date":"not-a-date"}`), &in))
}

func TestNights_ExpandsHalfOpenRange(t *testing.T) {
	start := booking.NewDate(2023, time.May, 21)

	nights := booking.Nights(start, 3)
	require.Len(t, nights, 3)
	assert.Equal(t, "2023-05-21", nights[0].String())
	assert.Equal(t, "2023-05-23", nights[2].String())

	assert.Empty(t, booking.Nights(start, 0))
	assert.Equal(t, 3, booking.DaysBetween(start, start.AddDays(3)))
	assert.Equal(t, -3, booking.DaysBetween(start.AddDays(3), start))
	assert.Equal(t, 730485, booking.DaysBetween(booking.NewDate(1, time.January, 1), booking.NewDate(2001, time.January, 1)))
}

func TestBooking_CheckOutIsExclusive(t *testing.T) {
	b := booking.Booking{CheckInDate: booking.NewDate(2023, time.May, 21), NumberOfNights: 5}
	assert.Equal(t, "2023-05-26", b.CheckOutDate().String())
	assert.Equal(t, "2023-05-25", b.Nights()[4].String())
}
