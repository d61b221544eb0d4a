/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the unit booking server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env, BOOKING_* env, flags)
  2. Build the logger
  3. Open the configured store (sqlite, postgres or memory)
  4. Create the booking service and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config    YAML config file (optional)
  -env-file  .env file (default: .env, ignored when missing)
  -port      HTTP server port (overrides config)
  -driver    Store driver: sqlite | postgres | memory (overrides config)
  -db        SQLite database path (overrides config)
             Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout_seconds)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/booking.db"

  # Run against PostgreSQL
  BOOKING_POSTGRES_DSN=postgres://... ./server -driver=postgres

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration layers
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go, store/postgres/postgres.go: Stores
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/unit-booking/api"
	"github.com/warp/unit-booking/booking"
	"github.com/warp/unit-booking/booking/store"
	"github.com/warp/unit-booking/config"
	"github.com/warp/unit-booking/obs"
	"github.com/warp/unit-booking/store/postgres"
	"github.com/warp/unit-booking/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	envFile := flag.String("env-file", ".env", ".env file")
	port := flag.Int("port", 0, "HTTP server port")
	driver := flag.String("driver", "", "Store driver: sqlite, postgres or memory")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "driver":
			cfg.Store.Driver = *driver
		case "db":
			cfg.Store.SQLitePath = *dbPath
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer closeStore()

	// Initialize service and handler
	svc := booking.NewService(st, booking.WithLogger(logger))
	handler := api.NewHandler(svc, logger)
	if hc, ok := st.(api.HealthChecker); ok {
		handler.Health = hc
	}

	router := api.NewRouter(handler, logger, api.RouterOptions{
		AllowedOrigins:  cfg.Server.CORSOrigins,
		RateLimitPerSec: cfg.Server.RateLimitPerSec,
		RateLimitBurst:  cfg.Server.RateLimitBurst,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.Int("port", cfg.Server.Port),
			slog.String("store", cfg.Store.Driver),
			slog.String("env", cfg.Env),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore returns the configured store and a func releasing it.
func openStore(ctx context.Context, cfg config.StoreConfig) (booking.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := postgres.Connect(ctx, postgres.Options{
			DSN:          cfg.PostgresDSN,
			MinConns:     cfg.MinConns,
			MaxConns:     cfg.MaxConns,
			MaxTxRetries: cfg.MaxTxRetries,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
