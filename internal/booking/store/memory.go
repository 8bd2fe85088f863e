package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/example/fuelqueue/internal/booking/domain"
)

const snapshotBuffer = 32

// sortActive orders bookings by position. Positions can tie when a
// cancellation gap lets the count-based assignment reuse a number before
// the next renumbering; the older booking keeps precedence so renumbering
// preserves arrival order.
func sortActive(active []domain.Booking) {
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Position != active[j].Position {
			return active[i].Position < active[j].Position
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
}

// Memory provides an in-memory store implementation suitable for tests and
// local demos. A single lock serializes commits, which trivially satisfies
// the per-station transaction contract.
type Memory struct {
	mu       sync.RWMutex
	stations map[string]domain.Station
	bookings map[uuid.UUID]domain.Booking
	vehicles map[string]uuid.UUID // vehicle id -> active booking id
	subs     map[string][]*memorySub
}

type memorySub struct {
	ch     chan []domain.Booking
	closed bool
}

// NewMemory constructs an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		stations: make(map[string]domain.Station),
		bookings: make(map[uuid.UUID]domain.Booking),
		vehicles: make(map[string]uuid.UUID),
		subs:     make(map[string][]*memorySub),
	}
}

// SeedStation inserts or replaces a station document. Station CRUD is owned
// by external admin tooling; this exists for wiring and tests.
func (m *Memory) SeedStation(_ context.Context, st domain.Station) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st.Version == 0 {
		st.Version = 1
	}
	m.stations[st.ID] = st
}

// GetStation retrieves a station document.
func (m *Memory) GetStation(_ context.Context, id string) (domain.Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stations[id]
	if !ok {
		return domain.Station{}, domain.ErrStationNotFound
	}
	return st, nil
}

// GetBooking retrieves a booking document.
func (m *Memory) GetBooking(_ context.Context, id uuid.UUID) (domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

// ActiveByStation returns the station's non-terminal bookings ordered by
// position ascending.
func (m *Memory) ActiveByStation(_ context.Context, stationID string) ([]domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeByStationLocked(stationID), nil
}

func (m *Memory) activeByStationLocked(stationID string) []domain.Booking {
	var active []domain.Booking
	for _, b := range m.bookings {
		if b.StationID == stationID && b.Active() {
			active = append(active, b)
		}
	}
	sortActive(active)
	return active
}

// ActiveByVehicle returns the vehicle's active booking, if any, across all
// stations.
func (m *Memory) ActiveByVehicle(_ context.Context, vehicleID string) (domain.Booking, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.vehicles[vehicleID]
	if !ok {
		return domain.Booking{}, false, nil
	}
	return m.bookings[id], true, nil
}

// StationTx runs fn against a staged view of one station and commits all
// staged writes atomically.
func (m *Memory) StationTx(_ context.Context, stationID string, fn func(tx domain.StationTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stations[stationID]; !ok {
		return domain.ErrStationNotFound
	}

	tx := &memoryTx{store: m, stationID: stationID}
	if err := fn(tx); err != nil {
		return err
	}

	for _, b := range tx.created {
		b.Version = 1
		m.bookings[b.ID] = b
		if b.Active() {
			m.vehicles[b.VehicleID] = b.ID
		}
	}
	for _, b := range tx.updated {
		b.Version++
		m.bookings[b.ID] = b
		if b.Active() {
			m.vehicles[b.VehicleID] = b.ID
		} else if m.vehicles[b.VehicleID] == b.ID {
			delete(m.vehicles, b.VehicleID)
		}
	}
	if tx.station != nil {
		st := *tx.station
		st.Version++
		m.stations[stationID] = st
	}

	m.publishLocked(stationID)
	return nil
}

type memoryTx struct {
	store     *Memory
	stationID string
	created   []domain.Booking
	updated   []domain.Booking
	station   *domain.Station
}

func (t *memoryTx) Station() (domain.Station, error) {
	if t.station != nil {
		return *t.station, nil
	}
	st, ok := t.store.stations[t.stationID]
	if !ok {
		return domain.Station{}, domain.ErrStationNotFound
	}
	return st, nil
}

func (t *memoryTx) ActiveBookings() ([]domain.Booking, error) {
	return t.store.activeByStationLocked(t.stationID), nil
}

func (t *memoryTx) ActiveByVehicle(vehicleID string) (domain.Booking, bool, error) {
	id, ok := t.store.vehicles[vehicleID]
	if !ok {
		return domain.Booking{}, false, nil
	}
	return t.store.bookings[id], true, nil
}

func (t *memoryTx) CreateBooking(b domain.Booking) { t.created = append(t.created, b) }
func (t *memoryTx) UpdateBooking(b domain.Booking) { t.updated = append(t.updated, b) }
func (t *memoryTx) PutStation(st domain.Station)   { t.station = &st }

// UpdateBooking applies a single-booking mutation with optimistic version
// checking.
func (m *Memory) UpdateBooking(_ context.Context, b domain.Booking) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.bookings[b.ID]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	if existing.Version != b.Version {
		return domain.Booking{}, domain.ErrTransactionConflict
	}
	b.Version = existing.Version + 1
	m.bookings[b.ID] = b
	if b.Active() {
		m.vehicles[b.VehicleID] = b.ID
	} else if m.vehicles[b.VehicleID] == b.ID {
		delete(m.vehicles, b.VehicleID)
	}

	m.publishLocked(b.StationID)
	return b, nil
}

// Subscribe streams ordered active-set snapshots for the station. Snapshots
// are delivered in commit order; when a subscriber falls behind, the oldest
// pending snapshot is dropped in favour of the newest.
func (m *Memory) Subscribe(_ context.Context, stationID string) (<-chan []domain.Booking, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &memorySub{ch: make(chan []domain.Booking, snapshotBuffer)}
	m.subs[stationID] = append(m.subs[stationID], sub)

	// Prime the subscriber with the current state.
	sub.ch <- m.activeByStationLocked(stationID)

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		close(sub.ch)
		subs := m.subs[stationID]
		for i, s := range subs {
			if s == sub {
				m.subs[stationID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return sub.ch, cancel, nil
}

func (m *Memory) publishLocked(stationID string) {
	subs := m.subs[stationID]
	if len(subs) == 0 {
		return
	}
	snapshot := m.activeByStationLocked(stationID)
	for _, sub := range subs {
		if sub.closed {
			continue
		}
		for {
			select {
			case sub.ch <- snapshot:
			default:
				// Full buffer: shed the oldest pending snapshot so
				// delivery order is preserved.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}
