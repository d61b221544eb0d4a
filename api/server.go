/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from X-Forwarded-For / X-Real-IP
  3. Logger:     One slog line per request (obs.RequestLogger)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests
  6. RateLimit:  Per-client-IP token bucket (only when configured)

ROUTE GROUPS:
  /api/v1/booking/*   Booking commands and queries
  /api/v1/units/*     Per-unit read models

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/unit-booking/obs"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins  []string // empty means any origin
	RateLimitPerSec float64  // 0 disables rate limiting
	RateLimitBurst  int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, log *slog.Logger, opts RouterOptions) *chi.Mux {
	allowedOrigins := opts.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(obs.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if opts.RateLimitPerSec > 0 {
		r.Use(RateLimit(opts.RateLimitPerSec, opts.RateLimitBurst))
	}

	r.Get("/", h.Root)
	r.Get("/healthz", h.Healthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/booking", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/{id}", h.GetBooking)
			r.Post("/{id}/extend", h.ExtendBooking)
			r.Get("/{id}/history", h.GetHistory)
		})

		r.Route("/units", func(r chi.Router) {
			r.Get("/{unitID}/calendar", h.GetCalendar)
		})
	})

	return r
}
