package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/fuelqueue/internal/booking/domain"
	"github.com/example/fuelqueue/internal/booking/geo"
)

// CreateBookingRequest carries the payload for a new booking.
type CreateBookingRequest struct {
	StationID     string
	VehicleID     string
	RequesterID   uuid.UUID
	RequesterRole string
}

// CreateBooking reserves the next queue position at the station. The count
// and the write happen inside one station transaction, so two concurrent
// creations can never compute the same position.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (domain.Booking, error) {
	var booking domain.Booking
	err := s.withStationTx(ctx, req.StationID, func(tx domain.StationTx) error {
		st, err := tx.Station()
		if err != nil {
			return err
		}
		if err := s.gate.EnsureBookable(st); err != nil {
			return err
		}
		if _, exists, err := tx.ActiveByVehicle(req.VehicleID); err != nil {
			return err
		} else if exists {
			return domain.ErrDuplicateActiveBooking
		}

		active, err := tx.ActiveBookings()
		if err != nil {
			return err
		}

		now := s.clock.Now()
		position := len(active) + 1
		b := domain.Booking{
			ID:                   uuid.New(),
			StationID:            req.StationID,
			VehicleID:            req.VehicleID,
			RequesterID:          req.RequesterID,
			Position:             position,
			Status:               domain.StatusWaiting,
			EstimatedWaitMinutes: (position - 1) * domain.ServiceMinutesPerVehicle,
			CreatedAt:            now,
		}
		if position <= domain.EligibilityThreshold {
			b.Status = domain.StatusEligible
			b.EligibleAt = &now
		}

		tx.CreateBooking(b)
		booking = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, fmt.Errorf("create booking: %w", err)
	}

	bookingsCreatedTotal.Inc()
	s.recordAudit(ctx, domain.QueueLogEntry{
		ID:        uuid.New(),
		StationID: booking.StationID,
		BookingID: booking.ID,
		ActorID:   req.RequesterID,
		ActorRole: req.RequesterRole,
		To:        booking.Status,
		At:        booking.CreatedAt,
	})
	s.notify(ctx, domain.Notification{
		UserID: booking.RequesterID,
		Type:   "booking_confirmed",
		Title:  "Booking confirmed",
		Body:   fmt.Sprintf("You are number %d in the queue, estimated wait %d minutes.", booking.Position, booking.EstimatedWaitMinutes),
		Metadata: map[string]string{
			"booking_id": booking.ID.String(),
			"station_id": booking.StationID,
		},
	})
	return booking, nil
}

// CancelBooking cancels an active booking. Fueling in progress cannot be
// cancelled. Remaining positions are not compacted here; the gap heals on
// the next advancement.
func (s *Service) CancelBooking(ctx context.Context, bookingID, requesterID uuid.UUID, role string) (domain.Booking, error) {
	var cancelled domain.Booking
	var prev domain.BookingStatus

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		b, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return domain.Booking{}, err
		}

		switch b.Status {
		case domain.StatusWaiting, domain.StatusEligible, domain.StatusCheckedIn:
		default:
			return domain.Booking{}, domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		prev = b.Status
		b.Status = domain.StatusCancelled
		b.CancelledAt = &now

		cancelled, err = s.repo.UpdateBooking(ctx, b)
		if errors.Is(err, domain.ErrTransactionConflict) {
			continue
		}
		if err != nil {
			return domain.Booking{}, err
		}

		s.recordAudit(ctx, domain.QueueLogEntry{
			ID:        uuid.New(),
			StationID: cancelled.StationID,
			BookingID: cancelled.ID,
			ActorID:   requesterID,
			ActorRole: role,
			From:      prev,
			To:        domain.StatusCancelled,
			At:        now,
		})
		return cancelled, nil
	}
	return domain.Booking{}, domain.ErrTransactionConflict
}

// CheckIn records geofenced physical arrival for an eligible booking. The
// accuracy reading is advisory context for the failure message, not a gate.
func (s *Service) CheckIn(ctx context.Context, bookingID uuid.UUID, point *domain.GeoPoint, accuracyM float64, requesterID uuid.UUID, role string) (domain.Booking, error) {
	if point == nil {
		return domain.Booking{}, domain.ErrLocationUnavailable
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		b, err := s.repo.GetBooking(ctx, bookingID)
		if err != nil {
			return domain.Booking{}, err
		}
		if b.Status != domain.StatusEligible {
			checkInTotal.WithLabelValues("invalid_state").Inc()
			return domain.Booking{}, domain.ErrInvalidTransition
		}

		st, err := s.repo.GetStation(ctx, b.StationID)
		if err != nil {
			return domain.Booking{}, err
		}

		result := geo.ValidateCheckIn(*point, st.Location, st.CheckInRadiusM)
		if !result.OK {
			checkInTotal.WithLabelValues("out_of_range").Inc()
			return domain.Booking{}, &domain.OutOfRangeError{
				DistanceM: result.Meters(),
				RadiusM:   st.CheckInRadiusM,
				AccuracyM: accuracyM,
			}
		}

		now := s.clock.Now()
		b.Status = domain.StatusCheckedIn
		b.CheckedIn = true
		b.CheckInPoint = point
		b.CheckInDistanceM = &result.DistanceM
		b.CheckedInAt = &now

		checked, err := s.repo.UpdateBooking(ctx, b)
		if errors.Is(err, domain.ErrTransactionConflict) {
			continue
		}
		if err != nil {
			return domain.Booking{}, err
		}

		checkInTotal.WithLabelValues("ok").Inc()
		s.recordAudit(ctx, domain.QueueLogEntry{
			ID:        uuid.New(),
			StationID: checked.StationID,
			BookingID: checked.ID,
			ActorID:   requesterID,
			ActorRole: role,
			From:      domain.StatusEligible,
			To:        domain.StatusCheckedIn,
			At:        now,
		})
		return checked, nil
	}
	return domain.Booking{}, domain.ErrTransactionConflict
}

// GetBooking retrieves a booking by identifier.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// Station retrieves a station by identifier.
func (s *Service) Station(ctx context.Context, id string) (domain.Station, error) {
	return s.repo.GetStation(ctx, id)
}

// Queue returns the station's active bookings ordered by position.
func (s *Service) Queue(ctx context.Context, stationID string) ([]domain.Booking, error) {
	if _, err := s.repo.GetStation(ctx, stationID); err != nil {
		return nil, err
	}
	return s.repo.ActiveByStation(ctx, stationID)
}
