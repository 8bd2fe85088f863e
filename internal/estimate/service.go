package estimate

import (
	"context"

	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/geo"
)

// LocationSource provides the latest observed vehicle locations.
type LocationSource interface {
	Snapshot(vehicleID string) (domain.VehicleSnapshot, bool)
}

// Service computes read-only wait and distance estimates for the customer
// map screen. It never mutates queue state.
type Service struct {
	repo   domain.Repository
	source LocationSource
}

// New creates an estimate service.
func New(repo domain.Repository, source LocationSource) *Service {
	return &Service{repo: repo, source: source}
}

// QueueEstimate describes what a new arrival at the station would get.
type QueueEstimate struct {
	StationID            string `json:"station_id"`
	QueueLength          int    `json:"queue_length"`
	NextPosition         int    `json:"next_position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	AcceptingBookings    bool   `json:"accepting_bookings"`
}

// ForStation estimates the wait for the next booking at a station.
func (s *Service) ForStation(ctx context.Context, stationID string) (QueueEstimate, error) {
	st, err := s.repo.GetStation(ctx, stationID)
	if err != nil {
		return QueueEstimate{}, err
	}
	active, err := s.repo.ActiveByStation(ctx, stationID)
	if err != nil {
		return QueueEstimate{}, err
	}
	next := len(active) + 1
	return QueueEstimate{
		StationID:            stationID,
		QueueLength:          len(active),
		NextPosition:         next,
		EstimatedWaitMinutes: (next - 1) * domain.ServiceMinutesPerVehicle,
		AcceptingBookings:    st.AcceptsBookings(),
	}, nil
}

// CheckInPreview reports whether the vehicle's last observed location would
// pass the station geofence. Purely advisory; the authoritative check runs
// at check-in time against the submitted reading.
type CheckInPreview struct {
	StationID    string `json:"station_id"`
	VehicleID    string `json:"vehicle_id"`
	WithinRadius bool   `json:"within_radius"`
	DistanceM    int    `json:"distance_m"`
	RadiusM      int    `json:"radius_m"`
	LowAccuracy  bool   `json:"low_accuracy,omitempty"`
}

// PreviewCheckIn computes the check-in preview from the latest snapshot.
func (s *Service) PreviewCheckIn(ctx context.Context, stationID, vehicleID string) (CheckInPreview, error) {
	st, err := s.repo.GetStation(ctx, stationID)
	if err != nil {
		return CheckInPreview{}, err
	}
	snap, ok := s.source.Snapshot(vehicleID)
	if !ok {
		return CheckInPreview{}, domain.ErrLocationUnavailable
	}

	result := geo.ValidateCheckIn(snap.Point, st.Location, st.CheckInRadiusM)
	return CheckInPreview{
		StationID:    stationID,
		VehicleID:    vehicleID,
		WithinRadius: result.OK,
		DistanceM:    result.Meters(),
		RadiusM:      int(st.CheckInRadiusM),
		LowAccuracy:  snap.AccuracyM > domain.MaxLocationAccuracyM,
	}, nil
}
