/*
Package sqlite provides a SQLite-backed implementation of booking.Store.

PURPOSE:
  Default production engine. Persists the booking ledger, the per-night
  availability index and the audit log in one database file so a single
  SQL transaction covers all three.

KEY TABLES:
  bookings:          One row per booking (the ledger)
  unit_availability: One row per occupied (unit_id, date)
  audit_log:         Append-only history of booking changes

CONSTRAINTS:
  The schema backs up the in-process locking:
  - PRIMARY KEY (unit_id, date):  a night is never marked twice
  - UNIQUE (guest_name, unit_id): one booking per guest per unit
  - UNIQUE (guest_name):          one booking per guest overall
  Violations surface as *booking.ConflictError.

CONCURRENCY:
  Uses sync.RWMutex: WithTx and single writes hold the write lock, reads
  share the read lock. Inside WithTx every call goes through the *sql.Tx,
  never back through the Store, so the callback never re-enters the mutex.

WAL MODE:
  Opened with WAL so readers do not block the single writer. ":memory:" is
  pinned to one connection because each new connection would otherwise get
  its own empty database.

USAGE:
  store, err := sqlite.New("./data/booking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := booking.NewService(store)

SEE ALSO:
  - booking/store.go: Interface definitions
  - booking/store/memory.go: In-memory implementation
  - store/postgres: Multi-process deployments
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/unit-booking/booking"
)

// Store implements booking.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ booking.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := newStore(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func newStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger
	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guest_name TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		check_in_date TEXT NOT NULL,
		number_of_nights INTEGER NOT NULL CHECK (number_of_nights >= 1),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_guest_unit
		ON bookings(guest_name, unit_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_guest
		ON bookings(guest_name);

	-- Availability index: one row per occupied night
	CREATE TABLE IF NOT EXISTS unit_availability (
		unit_id TEXT NOT NULL,
		date TEXT NOT NULL,
		PRIMARY KEY (unit_id, date)
	);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		booking_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		guest_name TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		payload_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_booking
		ON audit_log(booking_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
// The transaction commits only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(v *view) error { return fn(v) })
}

// inTx runs fn on a fresh *sql.Tx. Caller holds the write lock.
func (s *Store) inTx(ctx context.Context, fn func(v *view) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&view{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS
// =============================================================================

func (s *Store) Insert(ctx context.Context, b booking.Booking) (booking.BookingID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{q: s.db}).Insert(ctx, b)
}

func (s *Store) FindByGuestAndUnit(ctx context.Context, guestName, unitID string) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{q: s.db}).FindByGuestAndUnit(ctx, guestName, unitID)
}

func (s *Store) FindByGuest(ctx context.Context, guestName string) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{q: s.db}).FindByGuest(ctx, guestName)
}

func (s *Store) FindByID(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{q: s.db}).FindByID(ctx, id)
}

func (s *Store) UpdateNights(ctx context.Context, id booking.BookingID, nights int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{q: s.db}).UpdateNights(ctx, id, nights)
}

func (s *Store) IsRangeFree(ctx context.Context, unitID string, start, end booking.Date) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{q: s.db}).IsRangeFree(ctx, unitID, start, end)
}

// MarkOccupied writes all dates or none.
func (s *Store) MarkOccupied(ctx context.Context, unitID string, dates []booking.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTx(ctx, func(v *view) error {
		return v.MarkOccupied(ctx, unitID, dates)
	})
}

func (s *Store) OccupiedDates(ctx context.Context, unitID string, from, to booking.Date) ([]booking.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{q: s.db}).OccupiedDates(ctx, unitID, from, to)
}

func (s *Store) AppendAudit(ctx context.Context, entry booking.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&view{q: s.db}).AppendAudit(ctx, entry)
}

func (s *Store) AuditTrail(ctx context.Context, id booking.BookingID) ([]booking.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&view{q: s.db}).AuditTrail(ctx, id)
}

// =============================================================================
// QUERIES - shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// view runs every booking.Tx method against one querier without locking.
type view struct {
	q querier
}

const bookingColumns = `id, guest_name, unit_id, check_in_date, number_of_nights`

func (v *view) Insert(ctx context.Context, b booking.Booking) (booking.BookingID, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := v.q.ExecContext(ctx, `
		INSERT INTO bookings (guest_name, unit_id, check_in_date, number_of_nights, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.GuestName, b.UnitID, b.CheckInDate.String(), b.NumberOfNights, now, now)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, &booking.ConflictError{UnitID: b.UnitID, GuestName: b.GuestName}
		}
		return 0, fmt.Errorf("failed to insert booking: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read booking id: %w", err)
	}
	return booking.BookingID(id), nil
}

func (v *view) FindByGuestAndUnit(ctx context.Context, guestName, unitID string) (*booking.Booking, error) {
	return v.findOne(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE guest_name = ? AND unit_id = ? ORDER BY id LIMIT 1`,
		guestName, unitID)
}

func (v *view) FindByGuest(ctx context.Context, guestName string) (*booking.Booking, error) {
	return v.findOne(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE guest_name = ? ORDER BY id LIMIT 1`,
		guestName)
}

func (v *view) FindByID(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	return v.findOne(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`,
		int64(id))
}

func (v *view) findOne(ctx context.Context, query string, args ...any) (*booking.Booking, error) {
	var (
		b       booking.Booking
		id      int64
		checkIn string
	)
	err := v.q.QueryRowContext(ctx, query, args...).
		Scan(&id, &b.GuestName, &b.UnitID, &checkIn, &b.NumberOfNights)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query booking: %w", err)
	}

	b.ID = booking.BookingID(id)
	if b.CheckInDate, err = booking.ParseDate(checkIn); err != nil {
		return nil, fmt.Errorf("booking %d: %w", id, err)
	}
	return &b, nil
}

func (v *view) UpdateNights(ctx context.Context, id booking.BookingID, nights int) error {
	res, err := v.q.ExecContext(ctx,
		`UPDATE bookings SET number_of_nights = ?, updated_at = ? WHERE id = ?`,
		nights, time.Now().UTC().Format(time.RFC3339), int64(id))
	if err != nil {
		return fmt.Errorf("failed to update booking %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update booking %d: %w", id, err)
	}
	if n == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (v *view) IsRangeFree(ctx context.Context, unitID string, start, end booking.Date) (bool, error) {
	if !start.Before(end) {
		return true, nil
	}
	var count int
	err := v.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM unit_availability WHERE unit_id = ? AND date >= ? AND date < ?`,
		unitID, start.String(), end.String(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return count == 0, nil
}

// MarkOccupied inserts one row per date. The caller owns atomicity.
func (v *view) MarkOccupied(ctx context.Context, unitID string, dates []booking.Date) error {
	for _, d := range dates {
		_, err := v.q.ExecContext(ctx,
			`INSERT INTO unit_availability (unit_id, date) VALUES (?, ?)`,
			unitID, d.String())
		if err != nil {
			if isUniqueConstraintError(err) {
				return &booking.ConflictError{UnitID: unitID, Date: d}
			}
			return fmt.Errorf("failed to mark %s occupied on %s: %w", unitID, d, err)
		}
	}
	return nil
}

func (v *view) OccupiedDates(ctx context.Context, unitID string, from, to booking.Date) ([]booking.Date, error) {
	rows, err := v.q.QueryContext(ctx,
		`SELECT date FROM unit_availability WHERE unit_id = ? AND date >= ? AND date < ? ORDER BY date ASC`,
		unitID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query availability: %w", err)
	}
	defer rows.Close()

	var dates []booking.Date
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan date: %w", err)
		}
		d, err := booking.ParseDate(raw)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (v *view) AppendAudit(ctx context.Context, entry booking.AuditEntry) error {
	payloadJSON, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode audit payload: %w", err)
	}

	_, err = v.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, booking_id, action, guest_name, unit_id, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, int64(entry.BookingID), string(entry.Action), entry.GuestName, entry.UnitID,
		string(payloadJSON), entry.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (v *view) AuditTrail(ctx context.Context, id booking.BookingID) ([]booking.AuditEntry, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, booking_id, action, guest_name, unit_id, payload_json, created_at
		FROM audit_log
		WHERE booking_id = ?
		ORDER BY seq ASC
	`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []booking.AuditEntry
	for rows.Next() {
		var (
			e           booking.AuditEntry
			bookingID   int64
			action      string
			payloadJSON sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &bookingID, &action, &e.GuestName, &e.UnitID, &payloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.BookingID = booking.BookingID(bookingID)
		e.Action = booking.AuditAction(action)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode audit payload %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data and restarts id sequences. The conformance suite
// uses it to share one database across subtests.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"audit_log", "unit_availability", "bookings", "sqlite_sequence"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
