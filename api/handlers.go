/*
handlers.go - HTTP API handlers for unit bookings

PURPOSE:
  Exposes the booking service via REST API. Handles HTTP request/response
  and JSON serialization, and delegates every decision to booking.Service.

ENDPOINTS:
  GET    /                                 Liveness ({"message":"OK"})
  GET    /healthz                          Store reachability
  POST   /api/v1/booking                   Create booking
  GET    /api/v1/booking/{id}              Get booking
  POST   /api/v1/booking/{id}/extend       Extend booking
  GET    /api/v1/booking/{id}/history      Audit trail
  GET    /api/v1/units/{unitID}/calendar   Occupied nights (?from=&to=)

ERROR HANDLING:
  Errors are returned as JSON (ErrorResponse) with:
  - 400: Business rejection; reason carries the code, detail the message
  - 404: Booking not found
  - 422: Malformed body, bad path/query parameter, field validation
  - 429: Rate limit exceeded (ratelimit.go)
  - 500: Availability conflict or store failure (generic detail; cause is logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - validation.go: Field validation
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/unit-booking/booking"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// HealthChecker is implemented by stores that can report reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *booking.Service
	Health  HealthChecker // optional

	validate *requestValidator
	log      *slog.Logger
}

// NewHandler creates a new handler over svc.
func NewHandler(svc *booking.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Service:  svc,
		validate: newRequestValidator(),
		log:      log,
	}
}

// =============================================================================
// STATUS HANDLERS
// =============================================================================

// Root answers liveness probes.
// GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "OK"})
}

// Healthz pings the store when it supports it.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health.Ping(r.Context()); err != nil {
			h.log.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "OK"})
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking admits a new booking.
// POST /api/v1/booking
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	domainReq, err := req.ToDomain()
	if err != nil {
		writeValidation(w, []FieldError{{Field: "check_in_date", Message: "must be a date in YYYY-MM-DD format"}})
		return
	}

	b, err := h.Service.CreateBooking(r.Context(), domainReq)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// GetBooking returns one booking.
// GET /api/v1/booking/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}

	b, err := h.Service.GetBooking(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// ExtendBooking adds nights after the current check-out.
// POST /api/v1/booking/{id}/extend
func (h *Handler) ExtendBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}

	var req ExtendBookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	b, err := h.Service.ExtendBooking(r.Context(), id, req.NumberOfNights)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(b))
}

// GetHistory returns the audit trail of a booking, oldest first.
// GET /api/v1/booking/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingIDParam(w, r)
	if !ok {
		return
	}

	entries, err := h.Service.History(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// =============================================================================
// UNIT HANDLERS
// =============================================================================

// GetCalendar lists occupied nights of a unit.
// GET /api/v1/units/{unitID}/calendar?from=YYYY-MM-DD&to=YYYY-MM-DD
// Without from, the window starts today; without to, it spans the default window.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")
	from, to := h.Service.CalendarWindow()

	if raw := r.URL.Query().Get("from"); raw != "" {
		d, err := booking.ParseDate(raw)
		if err != nil {
			writeValidation(w, []FieldError{{Field: "from", Message: "must be a date in YYYY-MM-DD format"}})
			return
		}
		from, to = d, d.AddDays(booking.DefaultCalendarWindow)
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		d, err := booking.ParseDate(raw)
		if err != nil {
			writeValidation(w, []FieldError{{Field: "to", Message: "must be a date in YYYY-MM-DD format"}})
			return
		}
		to = d
	}

	cal, err := h.Service.UnitCalendar(r.Context(), unitID, from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCalendarDTO(cal))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it has
// already written the response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body", err)
		return false
	}
	if fields := h.validate.Struct(dst); len(fields) > 0 {
		writeValidation(w, fields)
		return false
	}
	return true
}

func bookingIDParam(w http.ResponseWriter, r *http.Request) (booking.BookingID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeValidation(w, []FieldError{{Field: "id", Message: "must be an integer"}})
		return 0, false
	}
	return booking.BookingID(id), true
}

// writeServiceError maps a booking.Service error to a status code.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rejected   *booking.RejectedError
		validation *booking.ValidationError
	)
	switch {
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  string(rejected.Op) + " rejected",
			Reason: rejected.Reason.Code(),
			Detail: rejected.Reason.Message(),
		})
	case booking.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:  "not found",
			Detail: "Booking not found",
		})
	case errors.As(err, &validation):
		writeValidation(w, []FieldError{{Field: validation.Field, Message: validation.Message}})
	default:
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		// The error may carry guest names or driver detail; it stays in the log.
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:  "internal error",
			Detail: "An unexpected error occurred",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeValidation(w http.ResponseWriter, fields []FieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Error:  "validation failed",
		Fields: fields,
	})
}
