/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. The field names match
  the public booking API (snake_case, dates as YYYY-MM-DD).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags; see validation.go.
  Business rules (double booking etc.) are not validated here.

SEE ALSO:
  - handlers.go: Uses these types
  - booking/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/unit-booking/booking"
)

// =============================================================================
// REQUESTS
// =============================================================================

// CreateBookingRequest is the body of POST /api/v1/booking.
// The number_of_nights bound mirrors booking.MaxNights.
type CreateBookingRequest struct {
	GuestName      string `json:"guest_name" validate:"required,notblank,max=255"`
	UnitID         string `json:"unit_id" validate:"required,notblank,max=255"`
	CheckInDate    string `json:"check_in_date" validate:"required,datetime=2006-01-02"`
	NumberOfNights int    `json:"number_of_nights" validate:"required,min=1,max=365"`
}

// ToDomain converts the request. CheckInDate must already be validated.
func (r CreateBookingRequest) ToDomain() (booking.Request, error) {
	checkIn, err := booking.ParseDate(r.CheckInDate)
	if err != nil {
		return booking.Request{}, err
	}
	return booking.Request{
		GuestName:      r.GuestName,
		UnitID:         r.UnitID,
		CheckInDate:    checkIn,
		NumberOfNights: r.NumberOfNights,
	}, nil
}

// ExtendBookingRequest is the body of POST /api/v1/booking/{id}/extend.
type ExtendBookingRequest struct {
	NumberOfNights int `json:"number_of_nights" validate:"required,min=1,max=365"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID             int64  `json:"id"`
	GuestName      string `json:"guest_name"`
	UnitID         string `json:"unit_id"`
	CheckInDate    string `json:"check_in_date"`
	NumberOfNights int    `json:"number_of_nights"`
	CheckOutDate   string `json:"check_out_date"`
}

func toBookingDTO(b booking.Booking) BookingDTO {
	return BookingDTO{
		ID:             int64(b.ID),
		GuestName:      b.GuestName,
		UnitID:         b.UnitID,
		CheckInDate:    b.CheckInDate.String(),
		NumberOfNights: b.NumberOfNights,
		CheckOutDate:   b.CheckOutDate().String(),
	}
}

// AuditEntryDTO represents one history entry of a booking.
type AuditEntryDTO struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	BookingID int64          `json:"booking_id"`
	GuestName string         `json:"guest_name"`
	UnitID    string         `json:"unit_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func toAuditDTOs(entries []booking.AuditEntry) []AuditEntryDTO {
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, AuditEntryDTO{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Action:    string(e.Action),
			BookingID: int64(e.BookingID),
			GuestName: e.GuestName,
			UnitID:    e.UnitID,
			Payload:   e.Payload,
		})
	}
	return dtos
}

// CalendarDTO lists the occupied nights of a unit in [from, to).
type CalendarDTO struct {
	UnitID        string          `json:"unit_id"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Occupied      []string        `json:"occupied"`
	OccupancyRate decimal.Decimal `json:"occupancy_rate"`
}

func toCalendarDTO(c booking.Calendar) CalendarDTO {
	occupied := make([]string, 0, len(c.Occupied))
	for _, d := range c.Occupied {
		occupied = append(occupied, d.String())
	}
	return CalendarDTO{
		UnitID:        c.UnitID,
		From:          c.From.String(),
		To:            c.To.String(),
		Occupied:      occupied,
		OccupancyRate: c.OccupancyRate,
	}
}

// MessageResponse is a plain status message.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
// Reason is set for business rejections; Fields for validation failures.
type ErrorResponse struct {
	Error  string       `json:"error"`
	Reason string       `json:"reason,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Fields []FieldError `json:"fields,omitempty"`
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
