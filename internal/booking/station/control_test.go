package station_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/station"
	"github.com/example/fuelqueue/internal/booking/store"
)

type recordingSink struct{ entries []domain.QueueLogEntry }

func (s *recordingSink) Record(_ context.Context, entry domain.QueueLogEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newGatewayFixture(t *testing.T) (*station.Gateway, *store.Memory, *recordingSink) {
	t.Helper()
	repo := store.NewMemory()
	repo.SeedStation(context.Background(), domain.Station{
		ID:           "st-1",
		GasAvailable: true,
		BookingOpen:  true,
	})
	sink := &recordingSink{}
	gw := station.NewGateway(repo, sink, fixedClock{t: time.Unix(1000, 0).UTC()}, nil)
	return gw, repo, sink
}

func TestSetGasAvailable(t *testing.T) {
	gw, repo, sink := newGatewayFixture(t)
	operator := uuid.New()

	updated, err := gw.SetGasAvailable(context.Background(), "st-1", false, operator, "owner")
	require.NoError(t, err)
	require.False(t, updated.GasAvailable)

	stored, err := repo.GetStation(context.Background(), "st-1")
	require.NoError(t, err)
	require.False(t, stored.GasAvailable)
	require.True(t, stored.BookingOpen)

	require.Len(t, sink.entries, 1)
	require.Equal(t, "gas_available=false", sink.entries[0].Event)
	require.Equal(t, operator, sink.entries[0].ActorID)
	require.Equal(t, "owner", sink.entries[0].ActorRole)
}

func TestSetBookingOpen(t *testing.T) {
	gw, repo, sink := newGatewayFixture(t)

	_, err := gw.SetBookingOpen(context.Background(), "st-1", false, uuid.New(), "operator")
	require.NoError(t, err)

	stored, err := repo.GetStation(context.Background(), "st-1")
	require.NoError(t, err)
	require.False(t, stored.BookingOpen)
	require.True(t, stored.GasAvailable)

	require.Len(t, sink.entries, 1)
	require.Equal(t, "booking_open=false", sink.entries[0].Event)
}

func TestSetFlagUnknownStation(t *testing.T) {
	gw, _, sink := newGatewayFixture(t)

	_, err := gw.SetGasAvailable(context.Background(), "missing", false, uuid.New(), "owner")
	require.ErrorIs(t, err, domain.ErrStationNotFound)
	require.Empty(t, sink.entries)
}

func TestEnsureBookable(t *testing.T) {
	gw, _, _ := newGatewayFixture(t)

	open := domain.Station{GasAvailable: true, BookingOpen: true}
	require.NoError(t, gw.EnsureBookable(open))

	for _, st := range []domain.Station{
		{GasAvailable: false, BookingOpen: true},
		{GasAvailable: true, BookingOpen: false},
		{GasAvailable: true, BookingOpen: true, Suspended: true},
	} {
		require.ErrorIs(t, gw.EnsureBookable(st), domain.ErrStationUnavailable)
	}
}
