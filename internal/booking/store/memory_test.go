package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/store"
)

func TestMemoryUpdateBookingVersionConflict(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	m.SeedStation(ctx, domain.Station{ID: "st-1", GasAvailable: true, BookingOpen: true})

	b := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-1", Position: 1, Status: domain.StatusEligible}
	require.NoError(t, m.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(b)
		return nil
	}))
	b.Version = 1

	first := b
	first.Status = domain.StatusCheckedIn
	committed, err := m.UpdateBooking(ctx, first)
	require.NoError(t, err)
	require.Equal(t, int64(2), committed.Version)

	stale := b
	stale.Status = domain.StatusCancelled
	_, err = m.UpdateBooking(ctx, stale)
	require.ErrorIs(t, err, domain.ErrTransactionConflict)
}

func TestMemoryTerminalUpdateFreesVehicle(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	m.SeedStation(ctx, domain.Station{ID: "st-1", GasAvailable: true, BookingOpen: true})

	b := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-1", Position: 1, Status: domain.StatusEligible}
	require.NoError(t, m.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(b)
		return nil
	}))

	_, ok, err := m.ActiveByVehicle(ctx, "veh-1")
	require.NoError(t, err)
	require.True(t, ok)

	b.Version = 1
	b.Status = domain.StatusCancelled
	_, err = m.UpdateBooking(ctx, b)
	require.NoError(t, err)

	_, ok, err = m.ActiveByVehicle(ctx, "veh-1")
	require.NoError(t, err)
	require.False(t, ok)

	active, err := m.ActiveByStation(ctx, "st-1")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestMemoryActiveOrderTiesByCreation(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	m.SeedStation(ctx, domain.Station{ID: "st-1", GasAvailable: true, BookingOpen: true})

	// A cancellation gap can let position assignment reuse a number; the
	// older booking must keep precedence.
	older := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-old", Position: 3, Status: domain.StatusEligible, CreatedAt: time.Unix(1000, 0).UTC()}
	newer := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-new", Position: 3, Status: domain.StatusEligible, CreatedAt: time.Unix(2000, 0).UTC()}
	head := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-head", Position: 1, Status: domain.StatusEligible, CreatedAt: time.Unix(500, 0).UTC()}
	require.NoError(t, m.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(newer)
		tx.CreateBooking(older)
		tx.CreateBooking(head)
		return nil
	}))

	active, err := m.ActiveByStation(ctx, "st-1")
	require.NoError(t, err)
	require.Len(t, active, 3)
	require.Equal(t, "veh-head", active[0].VehicleID)
	require.Equal(t, "veh-old", active[1].VehicleID)
	require.Equal(t, "veh-new", active[2].VehicleID)
}

func TestMemorySubscribePrimesAndFollows(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	m.SeedStation(ctx, domain.Station{ID: "st-1", GasAvailable: true, BookingOpen: true})

	ch, cancel, err := m.Subscribe(ctx, "st-1")
	require.NoError(t, err)
	defer cancel()

	require.Empty(t, <-ch)

	b := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-1", Position: 1, Status: domain.StatusEligible}
	require.NoError(t, m.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(b)
		return nil
	}))

	snapshot := <-ch
	require.Len(t, snapshot, 1)
	require.Equal(t, b.ID, snapshot[0].ID)
}
