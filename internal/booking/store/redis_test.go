package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/store"
)

func newRedisClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return client, cleanup
}

func seedRedisStation(t *testing.T, s *store.Redis, id string) {
	t.Helper()
	require.NoError(t, s.SeedStation(context.Background(), domain.Station{
		ID:             id,
		Name:           "Main Street Fuel",
		Location:       domain.GeoPoint{Lat: 35.7, Lng: 51.4},
		CheckInRadiusM: 15,
		GasAvailable:   true,
		BookingOpen:    true,
	}))
}

func TestRedisStationTxCreatesBooking(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	s := store.NewRedis(client)
	ctx := context.Background()
	seedRedisStation(t, s, "st-1")

	b := domain.Booking{
		ID:        uuid.New(),
		StationID: "st-1",
		VehicleID: "veh-1",
		Position:  1,
		Status:    domain.StatusEligible,
		CreatedAt: time.Unix(1000, 0).UTC(),
	}
	err := s.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		st, err := tx.Station()
		if err != nil {
			return err
		}
		require.Equal(t, "st-1", st.ID)

		_, exists, err := tx.ActiveByVehicle("veh-1")
		require.NoError(t, err)
		require.False(t, exists)

		tx.CreateBooking(b)
		return nil
	})
	require.NoError(t, err)

	stored, err := s.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusEligible, stored.Status)
	require.Equal(t, int64(1), stored.Version)

	active, err := s.ActiveByStation(ctx, "st-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, b.ID, active[0].ID)

	indexed, ok, err := s.ActiveByVehicle(ctx, "veh-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.ID, indexed.ID)
}

func TestRedisStationTxUnknownStation(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	s := store.NewRedis(client)
	err := s.StationTx(context.Background(), "missing", func(domain.StationTx) error {
		t.Fatal("transaction body should not run")
		return nil
	})
	require.ErrorIs(t, err, domain.ErrStationNotFound)
}

func TestRedisStationTxRollsBackOnError(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	s := store.NewRedis(client)
	ctx := context.Background()
	seedRedisStation(t, s, "st-1")

	id := uuid.New()
	wantErr := domain.ErrStationUnavailable
	err := s.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(domain.Booking{ID: id, StationID: "st-1", VehicleID: "veh-1", Position: 1, Status: domain.StatusEligible})
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	_, err = s.GetBooking(ctx, id)
	require.ErrorIs(t, err, domain.ErrBookingNotFound)

	active, err := s.ActiveByStation(ctx, "st-1")
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestRedisUpdateBookingVersionConflict(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	s := store.NewRedis(client)
	ctx := context.Background()
	seedRedisStation(t, s, "st-1")

	b := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-1", Position: 1, Status: domain.StatusEligible}
	require.NoError(t, s.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(b)
		return nil
	}))
	b.Version = 1

	updated := b
	updated.Status = domain.StatusCheckedIn
	committed, err := s.UpdateBooking(ctx, updated)
	require.NoError(t, err)
	require.Equal(t, int64(2), committed.Version)

	// A write based on the stale version loses.
	stale := b
	stale.Status = domain.StatusCancelled
	_, err = s.UpdateBooking(ctx, stale)
	require.ErrorIs(t, err, domain.ErrTransactionConflict)
}

func TestRedisTerminalUpdateClearsIndexes(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	s := store.NewRedis(client)
	ctx := context.Background()
	seedRedisStation(t, s, "st-1")

	b := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-1", Position: 1, Status: domain.StatusEligible}
	require.NoError(t, s.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(b)
		return nil
	}))
	b.Version = 1

	b.Status = domain.StatusCancelled
	_, err := s.UpdateBooking(ctx, b)
	require.NoError(t, err)

	active, err := s.ActiveByStation(ctx, "st-1")
	require.NoError(t, err)
	require.Empty(t, active)

	_, ok, err := s.ActiveByVehicle(ctx, "veh-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisActiveOrderTiesByCreation(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	s := store.NewRedis(client)
	ctx := context.Background()
	seedRedisStation(t, s, "st-1")

	// Member ids are chosen so the ZSET's lexicographic tiebreak disagrees
	// with arrival order; creation time must win.
	older := domain.Booking{
		ID:        uuid.MustParse("ffffffff-0000-0000-0000-000000000001"),
		StationID: "st-1", VehicleID: "veh-old", Position: 3,
		Status: domain.StatusEligible, CreatedAt: time.Unix(1000, 0).UTC(),
	}
	newer := domain.Booking{
		ID:        uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		StationID: "st-1", VehicleID: "veh-new", Position: 3,
		Status: domain.StatusEligible, CreatedAt: time.Unix(2000, 0).UTC(),
	}
	require.NoError(t, s.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(older)
		tx.CreateBooking(newer)
		return nil
	}))

	active, err := s.ActiveByStation(ctx, "st-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "veh-old", active[0].VehicleID)
	require.Equal(t, "veh-new", active[1].VehicleID)
}

func TestRedisSubscribeDeliversSnapshots(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	s := store.NewRedis(client)
	ctx := context.Background()
	seedRedisStation(t, s, "st-1")

	ch, cancel, err := s.Subscribe(ctx, "st-1")
	require.NoError(t, err)
	defer cancel()

	// Primed with the current (empty) state.
	require.Empty(t, recvSnapshot(t, ch))

	b := domain.Booking{ID: uuid.New(), StationID: "st-1", VehicleID: "veh-1", Position: 1, Status: domain.StatusEligible}
	require.NoError(t, s.StationTx(ctx, "st-1", func(tx domain.StationTx) error {
		tx.CreateBooking(b)
		return nil
	}))

	snapshot := recvSnapshot(t, ch)
	require.Len(t, snapshot, 1)
	require.Equal(t, b.ID, snapshot[0].ID)
}

func recvSnapshot(t *testing.T, ch <-chan []domain.Booking) []domain.Booking {
	t.Helper()
	select {
	case snapshot := <-ch:
		return snapshot
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
