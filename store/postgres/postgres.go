/*
Package postgres provides a PostgreSQL-backed implementation of booking.Store.

PURPOSE:
  For deployments where several service processes share one database.
  The in-process KeyLocker only serializes requests inside one process, so
  here the database carries the concurrency guarantee.

ISOLATION:
  Every WithTx runs at SERIALIZABLE. When Postgres aborts a transaction with
  serialization_failure (40001) or deadlock_detected (40P01) the whole
  callback is re-run, up to MaxTxRetries extra attempts. The policy is
  re-evaluated on every attempt, so a retried request sees the winner's
  writes and is rejected normally.

  Business rejections are plain errors returned by the callback and are
  never retried.

CONSTRAINTS:
  Same as the SQLite schema. unique_violation (23505) surfaces as
  *booking.ConflictError.

SEE ALSO:
  - store/sqlite: Single-process engine
  - booking/storetest: Conformance suite
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/unit-booking/booking"
)

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Options configures the connection pool.
type Options struct {
	DSN          string
	MinConns     int32
	MaxConns     int32
	MaxTxRetries int
}

// Store implements booking.Store on a pgx connection pool.
type Store struct {
	pool       *pgxpool.Pool
	maxRetries int
}

var _ booking.Store = (*Store)(nil)

// Connect opens a pool, pings it and migrates the schema.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.MinConns = 1
	cfg.MaxConns = 10
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	s := &Store{pool: pool, maxRetries: opts.MaxTxRetries}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS bookings (
		id BIGSERIAL PRIMARY KEY,
		guest_name TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		check_in_date DATE NOT NULL,
		number_of_nights INTEGER NOT NULL CHECK (number_of_nights >= 1),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT bookings_guest_unit_key UNIQUE (guest_name, unit_id),
		CONSTRAINT bookings_guest_key UNIQUE (guest_name)
	);

	CREATE TABLE IF NOT EXISTS unit_availability (
		unit_id TEXT NOT NULL,
		date DATE NOT NULL,
		PRIMARY KEY (unit_id, date)
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		booking_id BIGINT NOT NULL,
		action TEXT NOT NULL,
		guest_name TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		payload JSONB,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_booking ON audit_log (booking_id, seq);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Reset truncates every table and restarts id sequences (for tests).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE audit_log, unit_availability, bookings RESTART IDENTITY`)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn in a SERIALIZABLE transaction, retrying on serialization
// failures and deadlocks.
func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	return s.retry(ctx, func(v *view) error { return fn(v) })
}

func (s *Store) retry(ctx context.Context, fn func(v *view) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= s.maxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
}

func (s *Store) runTx(ctx context.Context, fn func(v *view) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&view{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================

func (s *Store) Insert(ctx context.Context, b booking.Booking) (booking.BookingID, error) {
	return (&view{q: s.pool}).Insert(ctx, b)
}

func (s *Store) FindByGuestAndUnit(ctx context.Context, guestName, unitID string) (*booking.Booking, error) {
	return (&view{q: s.pool}).FindByGuestAndUnit(ctx, guestName, unitID)
}

func (s *Store) FindByGuest(ctx context.Context, guestName string) (*booking.Booking, error) {
	return (&view{q: s.pool}).FindByGuest(ctx, guestName)
}

func (s *Store) FindByID(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	return (&view{q: s.pool}).FindByID(ctx, id)
}

func (s *Store) UpdateNights(ctx context.Context, id booking.BookingID, nights int) error {
	return (&view{q: s.pool}).UpdateNights(ctx, id, nights)
}

func (s *Store) IsRangeFree(ctx context.Context, unitID string, start, end booking.Date) (bool, error) {
	return (&view{q: s.pool}).IsRangeFree(ctx, unitID, start, end)
}

// MarkOccupied writes all dates or none.
func (s *Store) MarkOccupied(ctx context.Context, unitID string, dates []booking.Date) error {
	return s.retry(ctx, func(v *view) error {
		return v.MarkOccupied(ctx, unitID, dates)
	})
}

func (s *Store) OccupiedDates(ctx context.Context, unitID string, from, to booking.Date) ([]booking.Date, error) {
	return (&view{q: s.pool}).OccupiedDates(ctx, unitID, from, to)
}

func (s *Store) AppendAudit(ctx context.Context, entry booking.AuditEntry) error {
	return (&view{q: s.pool}).AppendAudit(ctx, entry)
}

func (s *Store) AuditTrail(ctx context.Context, id booking.BookingID) ([]booking.AuditEntry, error) {
	return (&view{q: s.pool}).AuditTrail(ctx, id)
}

// =============================================================================
// QUERIES - shared by the pool and pgx.Tx
// =============================================================================

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type view struct {
	q pgQuerier
}

const bookingCols = `id, guest_name, unit_id, check_in_date, number_of_nights`

func (v *view) Insert(ctx context.Context, b booking.Booking) (booking.BookingID, error) {
	const q = `INSERT INTO bookings (guest_name, unit_id, check_in_date, number_of_nights)
	VALUES ($1, $2, $3, $4) RETURNING id`

	var id int64
	err := v.q.QueryRow(ctx, q, b.GuestName, b.UnitID, b.CheckInDate.Time, b.NumberOfNights).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &booking.ConflictError{UnitID: b.UnitID, GuestName: b.GuestName}
		}
		return 0, fmt.Errorf("failed to insert booking: %w", err)
	}
	return booking.BookingID(id), nil
}

func (v *view) FindByGuestAndUnit(ctx context.Context, guestName, unitID string) (*booking.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE guest_name=$1 AND unit_id=$2 ORDER BY id LIMIT 1`
	return v.findOne(ctx, q, guestName, unitID)
}

func (v *view) FindByGuest(ctx context.Context, guestName string) (*booking.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE guest_name=$1 ORDER BY id LIMIT 1`
	return v.findOne(ctx, q, guestName)
}

func (v *view) FindByID(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1`
	return v.findOne(ctx, q, int64(id))
}

func (v *view) findOne(ctx context.Context, q string, args ...any) (*booking.Booking, error) {
	var (
		b       booking.Booking
		id      int64
		checkIn time.Time
	)
	err := v.q.QueryRow(ctx, q, args...).Scan(&id, &b.GuestName, &b.UnitID, &checkIn, &b.NumberOfNights)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}
	b.ID = booking.BookingID(id)
	b.CheckInDate = booking.DateOf(checkIn)
	return &b, nil
}

func (v *view) UpdateNights(ctx context.Context, id booking.BookingID, nights int) error {
	tag, err := v.q.Exec(ctx,
		`UPDATE bookings SET number_of_nights=$1, updated_at=now() WHERE id=$2`,
		nights, int64(id))
	if err != nil {
		return fmt.Errorf("failed to update booking %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (v *view) IsRangeFree(ctx context.Context, unitID string, start, end booking.Date) (bool, error) {
	if !start.Before(end) {
		return true, nil
	}
	var taken bool
	err := v.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM unit_availability WHERE unit_id=$1 AND date >= $2 AND date < $3)`,
		unitID, start.Time, end.Time,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return !taken, nil
}

// MarkOccupied inserts one row per date. The caller owns atomicity.
func (v *view) MarkOccupied(ctx context.Context, unitID string, dates []booking.Date) error {
	for _, d := range dates {
		_, err := v.q.Exec(ctx,
			`INSERT INTO unit_availability (unit_id, date) VALUES ($1, $2)`,
			unitID, d.Time)
		if err != nil {
			if isUniqueViolation(err) {
				return &booking.ConflictError{UnitID: unitID, Date: d}
			}
			return fmt.Errorf("failed to mark %s occupied on %s: %w", unitID, d, err)
		}
	}
	return nil
}

func (v *view) OccupiedDates(ctx context.Context, unitID string, from, to booking.Date) ([]booking.Date, error) {
	rows, err := v.q.Query(ctx,
		`SELECT date FROM unit_availability WHERE unit_id=$1 AND date >= $2 AND date < $3 ORDER BY date ASC`,
		unitID, from.Time, to.Time)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	defer rows.Close()

	var dates []booking.Date
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		dates = append(dates, booking.DateOf(t))
	}
	return dates, rows.Err()
}

func (v *view) AppendAudit(ctx context.Context, entry booking.AuditEntry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}
	_, err = v.q.Exec(ctx, `
		INSERT INTO audit_log (id, booking_id, action, guest_name, unit_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, int64(entry.BookingID), string(entry.Action), entry.GuestName, entry.UnitID,
		string(payload), entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (v *view) AuditTrail(ctx context.Context, id booking.BookingID) ([]booking.AuditEntry, error) {
	rows, err := v.q.Query(ctx, `
		SELECT id, booking_id, action, guest_name, unit_id, payload::text, created_at
		FROM audit_log
		WHERE booking_id=$1
		ORDER BY seq ASC
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []booking.AuditEntry
	for rows.Next() {
		var (
			e         booking.AuditEntry
			bookingID int64
			action    string
			payload   *string
		)
		if err := rows.Scan(&e.ID, &bookingID, &action, &e.GuestName, &e.UnitID, &payload, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.BookingID = booking.BookingID(bookingID)
		e.Action = booking.AuditAction(action)
		e.Timestamp = e.Timestamp.UTC()
		if payload != nil {
			if err := json.Unmarshal([]byte(*payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
