/*
handlers_test.go - HTTP tests for the booking API

Tests for:
- Create: fresh booking, the three rejection reasons, validation
- Extend: not found, success, nights taken
- Get / history / calendar read models
- Internal errors: generic 500 body, cause only in the log
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/unit-booking/booking"
	"github.com/warp/unit-booking/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var frozenNow = time.Date(2023, time.May, 21, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := booking.NewService(store,
		booking.WithLogger(log),
		booking.WithClock(func() time.Time { return frozenNow }),
	)
	h := NewHandler(svc, log)
	h.Health = store

	srv := httptest.NewServer(NewRouter(h, log, RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func bookingBody(guest, unit, checkIn string, nights int) string {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(CreateBookingRequest{
		GuestName: guest, UnitID: unit, CheckInDate: checkIn, NumberOfNights: nights,
	})
	return buf.String()
}

var (
	guestAUnit1 = bookingBody("GuestA", "1", "2023-05-21", 5)
	guestAUnit2 = bookingBody("GuestA", "2", "2023-05-21", 5)
	guestBUnit1 = bookingBody("GuestB", "1", "2023-05-21", 5)
)

// =============================================================================
// STATUS
// =============================================================================

func TestRoot_OK(t *testing.T) {
	srv := newTestServer(t)

	status, body := get(t, srv, "/")

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"message":"OK"}`, body)
}

func TestHealthz_PingsStore(t *testing.T) {
	srv := newTestServer(t)

	status, _ := get(t, srv, "/healthz")

	assert.Equal(t, http.StatusOK, status)
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateBooking_Fresh(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/api/v1/booking", guestAUnit1)

	require.Equal(t, http.StatusOK, status, body)
	assert.JSONEq(t, `{
		"id": 1,
		"guest_name": "GuestA",
		"unit_id": "1",
		"check_in_date": "2023-05-21",
		"number_of_nights": 5,
		"check_out_date": "2023-05-26"
	}`, body)
}

func TestCreateBooking_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		second string
		reason string
		detail string
	}{
		{
			name:   "same guest same unit",
			second: guestAUnit1,
			reason: "duplicate_guest_unit",
			detail: "The given guest name cannot book the same unit multiple times",
		},
		{
			name:   "same guest different unit",
			second: guestAUnit2,
			reason: "guest_already_booked",
			detail: "The same guest cannot be in multiple units at the same time",
		},
		{
			name:   "different guest same unit",
			second: guestBUnit1,
			reason: "unit_unavailable",
			detail: "For the given check-in date, the unit is already occupied",
		},
		{
			name:   "different guest checks in during stay",
			second: bookingBody("GuestB", "1", "2023-05-22", 5),
			reason: "unit_unavailable",
			detail: "For the given check-in date, the unit is already occupied",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t)

			status, body := post(t, srv, "/api/v1/booking", guestAUnit1)
			require.Equal(t, http.StatusOK, status, body)

			status, body = post(t, srv, "/api/v1/booking", tc.second)

			assert.Equal(t, http.StatusBadRequest, status, body)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(body), &resp))
			assert.Equal(t, "create rejected", resp.Error)
			assert.Equal(t, tc.reason, resp.Reason)
			assert.Equal(t, tc.detail, resp.Detail)
		})
	}
}

func TestCreateBooking_ValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"missing guest", bookingBody("", "1", "2023-05-21", 5), "guest_name"},
		{"blank unit", bookingBody("GuestA", "   ", "2023-05-21", 5), "unit_id"},
		{"bad date", bookingBody("GuestA", "1", "21/05/2023", 5), "check_in_date"},
		{"zero nights", bookingBody("GuestA", "1", "2023-05-21", 0), "number_of_nights"},
		{"negative nights", bookingBody("GuestA", "1", "2023-05-21", -2), "number_of_nights"},
		{"too many nights", bookingBody("GuestA", "1", "2023-05-21", booking.MaxNights+1), "number_of_nights"},
		{"largest int nights", `{"guest_name":"GuestA","unit_id":"1","check_in_date":"2023-05-21","number_of_nights":9223372036854775807}`, "number_of_nights"},
		{"stay past last check-out", bookingBody("GuestA", "1", "9999-12-30", 3), "number_of_nights"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t)

			status, body := post(t, srv, "/api/v1/booking", tc.body)

			assert.Equal(t, http.StatusUnprocessableEntity, status, body)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal([]byte(body), &resp))
			require.NotEmpty(t, resp.Fields)
			assert.Equal(t, tc.field, resp.Fields[0].Field)
		})
	}
}

func TestCreateBooking_MalformedJSON(t *testing.T) {
	srv := newTestServer(t)

	status, _ := post(t, srv, "/api/v1/booking", `{"guest_name":`)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

// =============================================================================
// EXTEND
// =============================================================================

func TestExtendBooking_NotFound(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/api/v1/booking/0/extend", `{"number_of_nights": 4}`)

	assert.Equal(t, http.StatusNotFound, status, body)
}

func TestExtendBooking_Success_BlocksExtendedNights(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/api/v1/booking", guestAUnit1)
	require.Equal(t, http.StatusOK, status, body)
	var created BookingDTO
	require.NoError(t, json.Unmarshal([]byte(body), &created))

	status, body = post(t, srv, "/api/v1/booking/1/extend", `{"number_of_nights": 4}`)
	require.Equal(t, http.StatusOK, status, body)
	var extended BookingDTO
	require.NoError(t, json.Unmarshal([]byte(body), &extended))
	assert.Equal(t, created.ID, extended.ID)
	assert.Equal(t, 9, extended.NumberOfNights)
	assert.Equal(t, "2023-05-30", extended.CheckOutDate)

	// GuestB tries to book the extended nights.
	status, body = post(t, srv, "/api/v1/booking", bookingBody("GuestB", "1", "2023-05-26", 4))
	assert.Equal(t, http.StatusBadRequest, status, body)
}

func TestExtendBooking_NightsTaken(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/api/v1/booking", guestAUnit1)
	require.Equal(t, http.StatusOK, status, body)
	status, body = post(t, srv, "/api/v1/booking", bookingBody("GuestB", "1", "2023-05-26", 3))
	require.Equal(t, http.StatusOK, status, body)

	status, body = post(t, srv, "/api/v1/booking/1/extend", `{"number_of_nights": 4}`)

	assert.Equal(t, http.StatusBadRequest, status, body)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "extend rejected", resp.Error)
	assert.Equal(t, "unit_unavailable", resp.Reason)
}

func TestExtendBooking_Invalid(t *testing.T) {
	srv := newTestServer(t)

	status, _ := post(t, srv, "/api/v1/booking/abc/extend", `{"number_of_nights": 4}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = post(t, srv, "/api/v1/booking/1/extend", `{"number_of_nights": 0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestExtendBooking_NightsCap(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/api/v1/booking", bookingBody("GuestA", "1", "2023-05-21", 300))
	require.Equal(t, http.StatusOK, status, body)

	status, body = post(t, srv, "/api/v1/booking/1/extend", `{"number_of_nights": 366}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status, body)

	// Within the per-request bound, but 300 + 66 exceeds the stay cap.
	status, body = post(t, srv, "/api/v1/booking/1/extend", `{"number_of_nights": 66}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status, body)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.NotEmpty(t, resp.Fields)
	assert.Equal(t, "number_of_nights", resp.Fields[0].Field)

	status, body = get(t, srv, "/api/v1/booking/1")
	require.Equal(t, http.StatusOK, status)
	var b BookingDTO
	require.NoError(t, json.Unmarshal([]byte(body), &b))
	assert.Equal(t, 300, b.NumberOfNights)
}

// =============================================================================
// READ MODELS
// =============================================================================

func TestGetBooking(t *testing.T) {
	srv := newTestServer(t)

	status, _ := get(t, srv, "/api/v1/booking/1")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := post(t, srv, "/api/v1/booking", guestAUnit1)
	require.Equal(t, http.StatusOK, status, body)

	status, body = get(t, srv, "/api/v1/booking/1")
	assert.Equal(t, http.StatusOK, status)
	var b BookingDTO
	require.NoError(t, json.Unmarshal([]byte(body), &b))
	assert.Equal(t, "GuestA", b.GuestName)
}

func TestGetHistory(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/api/v1/booking", guestAUnit1)
	require.Equal(t, http.StatusOK, status, body)
	status, body = post(t, srv, "/api/v1/booking/1/extend", `{"number_of_nights": 2}`)
	require.Equal(t, http.StatusOK, status, body)

	status, body = get(t, srv, "/api/v1/booking/1/history")
	require.Equal(t, http.StatusOK, status, body)

	var entries []AuditEntryDTO
	require.NoError(t, json.Unmarshal([]byte(body), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "booking_created", entries[0].Action)
	assert.Equal(t, "booking_extended", entries[1].Action)
	assert.EqualValues(t, 7, entries[1].Payload["number_of_nights"])
	assert.True(t, entries[0].Timestamp.Equal(frozenNow))

	status, _ = get(t, srv, "/api/v1/booking/99/history")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetCalendar(t *testing.T) {
	srv := newTestServer(t)

	status, body := post(t, srv, "/api/v1/booking", guestAUnit1)
	require.Equal(t, http.StatusOK, status, body)

	status, body = get(t, srv, "/api/v1/units/1/calendar?from=2023-05-24&to=2023-05-28")
	require.Equal(t, http.StatusOK, status, body)
	assert.JSONEq(t, `{
		"unit_id": "1",
		"from": "2023-05-24",
		"to": "2023-05-28",
		"occupied": ["2023-05-24", "2023-05-25"],
		"occupancy_rate": "0.5"
	}`, body)

	// Default window starts at the service clock's today.
	status, body = get(t, srv, "/api/v1/units/1/calendar")
	require.Equal(t, http.StatusOK, status, body)
	var cal CalendarDTO
	require.NoError(t, json.Unmarshal([]byte(body), &cal))
	assert.Equal(t, "2023-05-21", cal.From)
	assert.Equal(t, "2023-06-20", cal.To)
	assert.Len(t, cal.Occupied, 5)

	status, _ = get(t, srv, "/api/v1/units/1/calendar?from=2023-05-28&to=2023-05-24")
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, _ = get(t, srv, "/api/v1/units/1/calendar?from=tomorrow")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

// =============================================================================
// INTERNAL ERRORS
// =============================================================================

// failingStore fails every transaction with err.
type failingStore struct {
	booking.Store
	err error
}

func (s failingStore) WithTx(context.Context, func(booking.Tx) error) error {
	return s.err
}

func TestCreateBooking_InternalError_HidesCause(t *testing.T) {
	cases := []struct {
		name   string
		cause  error
		logged string
	}{
		{"availability conflict", &booking.ConflictError{UnitID: "1", GuestName: "GuestA"}, "availability invariant violated"},
		{"driver failure", errors.New("disk I/O error: /var/lib/booking/booking.db"), "disk I/O error: /var/lib/booking/booking.db"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var logs bytes.Buffer
			log := slog.New(slog.NewTextHandler(&logs, nil))
			h := NewHandler(booking.NewService(failingStore{err: tc.cause}, booking.WithLogger(log)), log)
			srv := httptest.NewServer(NewRouter(h, log, RouterOptions{}))
			t.Cleanup(srv.Close)

			status, body := post(t, srv, "/api/v1/booking", guestAUnit1)

			assert.Equal(t, http.StatusInternalServerError, status)
			assert.JSONEq(t, `{"error":"internal error","detail":"An unexpected error occurred"}`, body)
			assert.NotContains(t, body, "GuestA")
			assert.Contains(t, logs.String(), tc.logged)
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/booking", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
