package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/service"
)

func TestAdvanceRenumbersAndDerivesStates(t *testing.T) {
	svc, repo, notifier, _, clock := newFixture()

	bookings := make([]domain.Booking, 0, 5)
	for i := 1; i <= 5; i++ {
		bookings = append(bookings, mustCreate(t, svc, fmt.Sprintf("veh-%d", i)))
	}

	head := bookings[0]
	_, err := svc.CheckIn(context.Background(), head.ID, &domain.GeoPoint{Lat: 35.7, Lng: 51.4}, 5, head.RequesterID, "customer")
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Minute)
	result, err := svc.Advance(context.Background(), testStationID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, "veh-1", result.CompletedVehicleID)
	require.Equal(t, "veh-2", result.NextVehicleID)
	require.Equal(t, 4, result.QueueLength)

	completed, err := repo.GetBooking(context.Background(), head.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)

	active, err := repo.ActiveByStation(context.Background(), testStationID)
	require.NoError(t, err)
	require.Len(t, active, 4)
	for i, b := range active {
		require.Equal(t, i+1, b.Position)
		require.Equal(t, i*domain.ServiceMinutesPerVehicle, b.EstimatedWaitMinutes)
	}
	require.Equal(t, domain.StatusFueling, active[0].Status)
	require.NotNil(t, active[0].FuelingAt)
	for _, b := range active[1:] {
		require.Equal(t, domain.StatusEligible, b.Status)
	}

	st, err := repo.GetStation(context.Background(), testStationID)
	require.NoError(t, err)
	require.Equal(t, int64(1), st.TotalServed)

	require.Len(t, notifier.byType("fueling_completed"), 1)
	turns := notifier.byType("your_turn")
	require.Len(t, turns, 1)
	require.Equal(t, bookings[1].RequesterID, turns[0].UserID)
}

func TestAdvanceEmptyQueue(t *testing.T) {
	svc, repo, _, _, _ := newFixture()

	_, err := svc.Advance(context.Background(), testStationID, uuid.New())
	require.ErrorIs(t, err, domain.ErrNoVehiclePresent)

	st, err := repo.GetStation(context.Background(), testStationID)
	require.NoError(t, err)
	require.Equal(t, int64(0), st.TotalServed)
}

func TestAdvanceRequiresHeadAtPump(t *testing.T) {
	svc, repo, _, _, _ := newFixture()

	head := mustCreate(t, svc, "veh-1")
	require.Equal(t, domain.StatusEligible, head.Status)

	// Eligible but never checked in: nothing is at the pump.
	_, err := svc.Advance(context.Background(), testStationID, uuid.New())
	require.ErrorIs(t, err, domain.ErrNoVehiclePresent)

	stored, err := repo.GetBooking(context.Background(), head.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusEligible, stored.Status)
	require.Equal(t, 1, stored.Position)
}

func TestAdvanceHealsCancellationGap(t *testing.T) {
	svc, repo, _, _, _ := newFixture()

	first := mustCreate(t, svc, "veh-1")
	second := mustCreate(t, svc, "veh-2")
	mustCreate(t, svc, "veh-3")

	_, err := svc.CancelBooking(context.Background(), second.ID, second.RequesterID, "customer")
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), first.ID, &domain.GeoPoint{Lat: 35.7, Lng: 51.4}, 5, first.RequesterID, "customer")
	require.NoError(t, err)

	result, err := svc.Advance(context.Background(), testStationID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, "veh-3", result.NextVehicleID)
	require.Equal(t, 1, result.QueueLength)

	active, err := repo.ActiveByStation(context.Background(), testStationID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, 1, active[0].Position)
	require.Equal(t, "veh-3", active[0].VehicleID)
	require.Equal(t, domain.StatusFueling, active[0].Status)
}

func TestAdvanceAfterHeadCancelled(t *testing.T) {
	svc, repo, _, _, _ := newFixture()

	first := mustCreate(t, svc, "veh-1")
	second := mustCreate(t, svc, "veh-2")
	mustCreate(t, svc, "veh-3")

	_, err := svc.CancelBooking(context.Background(), first.ID, first.RequesterID, "customer")
	require.NoError(t, err)
	_, err = svc.CheckIn(context.Background(), second.ID, &domain.GeoPoint{Lat: 35.7, Lng: 51.4}, 5, second.RequesterID, "customer")
	require.NoError(t, err)

	// veh-2 holds position 2 but is the lowest-position active booking, so
	// the cancelled head does not block advancement.
	result, err := svc.Advance(context.Background(), testStationID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, "veh-2", result.CompletedVehicleID)
	require.Equal(t, "veh-3", result.NextVehicleID)
	require.Equal(t, 1, result.QueueLength)

	active, err := repo.ActiveByStation(context.Background(), testStationID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, 1, active[0].Position)
	require.Equal(t, "veh-3", active[0].VehicleID)
	require.Equal(t, domain.StatusFueling, active[0].Status)
}

func TestSkipHeadAfterHeadCancelled(t *testing.T) {
	svc, repo, _, _, _ := newFixture()

	first := mustCreate(t, svc, "veh-1")
	second := mustCreate(t, svc, "veh-2")

	_, err := svc.CancelBooking(context.Background(), first.ID, first.RequesterID, "customer")
	require.NoError(t, err)

	result, err := svc.SkipHead(context.Background(), testStationID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, "veh-2", result.CompletedVehicleID)
	require.Equal(t, 0, result.QueueLength)

	skipped, err := repo.GetBooking(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSkipped, skipped.Status)
}

func TestAdvanceKeepsOriginalEligibleAt(t *testing.T) {
	svc, repo, _, _, clock := newFixture()

	first := mustCreate(t, svc, "veh-1")
	second := mustCreate(t, svc, "veh-2")
	firstEligible := *second.EligibleAt

	clock.t = clock.t.Add(10 * time.Minute)
	_, err := svc.CheckIn(context.Background(), first.ID, &domain.GeoPoint{Lat: 35.7, Lng: 51.4}, 5, first.RequesterID, "customer")
	require.NoError(t, err)
	_, err = svc.Advance(context.Background(), testStationID, uuid.New())
	require.NoError(t, err)

	promoted, err := repo.GetBooking(context.Background(), second.ID)
	require.NoError(t, err)
	require.NotNil(t, promoted.EligibleAt)
	require.Equal(t, firstEligible, *promoted.EligibleAt)
}

func TestAdvancePreservesCheckedInThroughRenumber(t *testing.T) {
	svc, repo, _, _, _ := newFixture()

	first := mustCreate(t, svc, "veh-1")
	second := mustCreate(t, svc, "veh-2")
	third := mustCreate(t, svc, "veh-3")

	point := &domain.GeoPoint{Lat: 35.7, Lng: 51.4}
	_, err := svc.CheckIn(context.Background(), first.ID, point, 5, first.RequesterID, "customer")
	require.NoError(t, err)
	_, err = svc.CheckIn(context.Background(), third.ID, point, 5, third.RequesterID, "customer")
	require.NoError(t, err)

	_, err = svc.Advance(context.Background(), testStationID, uuid.New())
	require.NoError(t, err)

	// veh-2 moves to the pump, veh-3 keeps its physical presence flag.
	promoted, err := repo.GetBooking(context.Background(), second.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFueling, promoted.Status)

	arrived, err := repo.GetBooking(context.Background(), third.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCheckedIn, arrived.Status)
	require.True(t, arrived.CheckedIn)
	require.Equal(t, 2, arrived.Position)
}

func TestSkipHeadNoShow(t *testing.T) {
	svc, repo, notifier, _, _ := newFixture()

	first := mustCreate(t, svc, "veh-1")
	mustCreate(t, svc, "veh-2")

	result, err := svc.SkipHead(context.Background(), testStationID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, "veh-1", result.CompletedVehicleID)
	require.Equal(t, "veh-2", result.NextVehicleID)
	require.Equal(t, 1, result.QueueLength)

	skipped, err := repo.GetBooking(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusSkipped, skipped.Status)
	require.Equal(t, 1, skipped.SkipCount)
	require.NotNil(t, skipped.SkippedAt)

	st, err := repo.GetStation(context.Background(), testStationID)
	require.NoError(t, err)
	require.Equal(t, int64(1), st.TotalSkipped)
	require.Equal(t, int64(0), st.TotalServed)

	require.Len(t, notifier.byType("booking_skipped"), 1)

	// The skipped vehicle can rejoin the queue.
	b, err := svc.CreateBooking(context.Background(), service.CreateBookingRequest{
		StationID: testStationID,
		VehicleID: "veh-1",
	})
	require.NoError(t, err)
	require.Equal(t, 2, b.Position)
}

func TestSkipHeadRefusesCheckedIn(t *testing.T) {
	svc, _, _, _, _ := newFixture()

	head := mustCreate(t, svc, "veh-1")
	_, err := svc.CheckIn(context.Background(), head.ID, &domain.GeoPoint{Lat: 35.7, Lng: 51.4}, 5, head.RequesterID, "customer")
	require.NoError(t, err)

	_, err = svc.SkipHead(context.Background(), testStationID, uuid.New())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestAdvanceAuditsEveryTransition(t *testing.T) {
	svc, _, _, audit, _ := newFixture()

	head := mustCreate(t, svc, "veh-1")
	mustCreate(t, svc, "veh-2")
	_, err := svc.CheckIn(context.Background(), head.ID, &domain.GeoPoint{Lat: 35.7, Lng: 51.4}, 5, head.RequesterID, "customer")
	require.NoError(t, err)

	before := len(audit.entries)
	_, err = svc.Advance(context.Background(), testStationID, uuid.New())
	require.NoError(t, err)

	// Completion of the head plus the promotion of the next vehicle.
	added := audit.entries[before:]
	require.Len(t, added, 2)
	require.Equal(t, domain.StatusCompleted, added[0].To)
	require.Equal(t, domain.StatusFueling, added[1].To)
}
