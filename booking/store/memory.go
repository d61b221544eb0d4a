// Package store provides in-process Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/unit-booking/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a booking.Store held entirely in memory.
// WithTx holds the write lock for the whole callback and replays an undo log
// if the callback fails or panics, so transactions are serial and
// all-or-nothing.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	nextID   booking.BookingID
	bookings map[booking.BookingID]booking.Booking
	marks    map[string]map[booking.Date]struct{} // unit -> night -> present
	audit    []booking.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func newState() *state {
	return &state{
		nextID:   1,
		bookings: make(map[booking.BookingID]booking.Booking),
		marks:    make(map[string]map[booking.Date]struct{}),
	}
}

var _ booking.Store = (*Memory)(nil)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// Every write records its inverse; on error or panic the inverses run in
// reverse order before the lock is released.
func (m *Memory) WithTx(_ context.Context, fn func(booking.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{st: m.st}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS - each call is its own transaction
// =============================================================================

func (m *Memory) read() *memoryTx {
	return &memoryTx{st: m.st}
}

func (m *Memory) Insert(ctx context.Context, b booking.Booking) (booking.BookingID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().Insert(ctx, b)
}

func (m *Memory) FindByGuestAndUnit(ctx context.Context, guestName, unitID string) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindByGuestAndUnit(ctx, guestName, unitID)
}

func (m *Memory) FindByGuest(ctx context.Context, guestName string) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindByGuest(ctx, guestName)
}

func (m *Memory) FindByID(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().FindByID(ctx, id)
}

func (m *Memory) UpdateNights(ctx context.Context, id booking.BookingID, nights int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().UpdateNights(ctx, id, nights)
}

func (m *Memory) IsRangeFree(ctx context.Context, unitID string, start, end booking.Date) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().IsRangeFree(ctx, unitID, start, end)
}

func (m *Memory) MarkOccupied(ctx context.Context, unitID string, dates []booking.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().MarkOccupied(ctx, unitID, dates)
}

func (m *Memory) OccupiedDates(ctx context.Context, unitID string, from, to booking.Date) ([]booking.Date, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().OccupiedDates(ctx, unitID, from, to)
}

func (m *Memory) AppendAudit(ctx context.Context, entry booking.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendAudit(ctx, entry)
}

func (m *Memory) AuditTrail(ctx context.Context, id booking.BookingID) ([]booking.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read().AuditTrail(ctx, id)
}

// =============================================================================
// TRANSACTIONAL VIEW - caller holds the lock
// =============================================================================

type memoryTx struct {
	st   *state
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) Insert(_ context.Context, b booking.Booking) (booking.BookingID, error) {
	for _, existing := range tx.st.bookings {
		if existing.GuestName == b.GuestName {
			return 0, &booking.ConflictError{UnitID: b.UnitID, GuestName: b.GuestName}
		}
	}
	b.ID = tx.st.nextID
	tx.st.nextID++
	tx.st.bookings[b.ID] = b
	tx.undo = append(tx.undo, func() {
		delete(tx.st.bookings, b.ID)
		tx.st.nextID = b.ID
	})
	return b.ID, nil
}

func (tx *memoryTx) FindByGuestAndUnit(_ context.Context, guestName, unitID string) (*booking.Booking, error) {
	return tx.first(func(b booking.Booking) bool {
		return b.GuestName == guestName && b.UnitID == unitID
	}), nil
}

func (tx *memoryTx) FindByGuest(_ context.Context, guestName string) (*booking.Booking, error) {
	return tx.first(func(b booking.Booking) bool {
		return b.GuestName == guestName
	}), nil
}

func (tx *memoryTx) FindByID(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	b, ok := tx.st.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// first returns the lowest-id booking matching fn.
func (tx *memoryTx) first(fn func(booking.Booking) bool) *booking.Booking {
	var found *booking.Booking
	for _, b := range tx.st.bookings {
		if !fn(b) {
			continue
		}
		if found == nil || b.ID < found.ID {
			b := b
			found = &b
		}
	}
	return found
}

func (tx *memoryTx) UpdateNights(_ context.Context, id booking.BookingID, nights int) error {
	b, ok := tx.st.bookings[id]
	if !ok {
		return booking.ErrBookingNotFound
	}
	previous := b
	b.NumberOfNights = nights
	tx.st.bookings[id] = b
	tx.undo = append(tx.undo, func() { tx.st.bookings[id] = previous })
	return nil
}

func (tx *memoryTx) IsRangeFree(_ context.Context, unitID string, start, end booking.Date) (bool, error) {
	dates := tx.st.marks[unitID]
	if len(dates) == 0 {
		return true, nil
	}
	for d := start; d.Before(end); d = d.AddDays(1) {
		if _, taken := dates[d]; taken {
			return false, nil
		}
	}
	return true, nil
}

func (tx *memoryTx) MarkOccupied(_ context.Context, unitID string, dates []booking.Date) error {
	existing := tx.st.marks[unitID]

	// Check everything first so a conflict writes nothing.
	seen := make(map[booking.Date]struct{}, len(dates))
	for _, d := range dates {
		if _, taken := existing[d]; taken {
			return &booking.ConflictError{UnitID: unitID, Date: d}
		}
		if _, dup := seen[d]; dup {
			return &booking.ConflictError{UnitID: unitID, Date: d}
		}
		seen[d] = struct{}{}
	}

	if existing == nil {
		existing = make(map[booking.Date]struct{}, len(dates))
		tx.st.marks[unitID] = existing
		tx.undo = append(tx.undo, func() { delete(tx.st.marks, unitID) })
	}
	for d := range seen {
		existing[d] = struct{}{}
	}
	tx.undo = append(tx.undo, func() {
		for d := range seen {
			delete(existing, d)
		}
	})
	return nil
}

func (tx *memoryTx) OccupiedDates(_ context.Context, unitID string, from, to booking.Date) ([]booking.Date, error) {
	var result []booking.Date
	for d := range tx.st.marks[unitID] {
		if !d.Before(from) && d.Before(to) {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Before(result[j])
	})
	return result, nil
}

func (tx *memoryTx) AppendAudit(_ context.Context, entry booking.AuditEntry) error {
	n := len(tx.st.audit)
	tx.st.audit = append(tx.st.audit, entry)
	tx.undo = append(tx.undo, func() { tx.st.audit = tx.st.audit[:n] })
	return nil
}

func (tx *memoryTx) AuditTrail(_ context.Context, id booking.BookingID) ([]booking.AuditEntry, error) {
	var result []booking.AuditEntry
	for _, e := range tx.st.audit {
		if e.BookingID == id {
			result = append(result, e)
		}
	}
	return result, nil
}
