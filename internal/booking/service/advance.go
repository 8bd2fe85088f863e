package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// AdvanceResult reports immediate operator feedback after an advancement.
type AdvanceResult struct {
	CompletedVehicleID string `json:"completed_vehicle_id"`
	// NextVehicleID is empty when the queue is now empty.
	NextVehicleID string `json:"next_vehicle_id,omitempty"`
	QueueLength   int    `json:"queue_length"`
}

// Advance completes the head-of-queue booking and reassigns every following
// position in one atomic station transaction. Any failure before commit
// leaves the queue untouched.
func (s *Service) Advance(ctx context.Context, stationID string, operatorID uuid.UUID) (AdvanceResult, error) {
	ctx, span := s.tracer.Start(ctx, "queue.advance")
	defer span.End()
	started := time.Now()

	var result AdvanceResult
	var entries []domain.QueueLogEntry
	var completed, next domain.Booking
	var hasNext bool

	err := s.withStationTx(ctx, stationID, func(tx domain.StationTx) error {
		entries = entries[:0]
		hasNext = false

		st, err := tx.Station()
		if err != nil {
			return err
		}
		active, err := tx.ActiveBookings()
		if err != nil {
			return err
		}

		head, ok := headOf(active)
		if !ok || (head.Status != domain.StatusFueling && head.Status != domain.StatusCheckedIn) {
			return domain.ErrNoVehiclePresent
		}

		now := s.clock.Now()
		prev := head.Status
		head.Status = domain.StatusCompleted
		head.CompletedAt = &now
		tx.UpdateBooking(head)
		completed = head
		entries = append(entries, s.transitionEntry(head, prev, operatorID, now))

		rest := renumber(active[1:], now)
		for i := range rest {
			if rest[i].Status != active[1+i].Status {
				entries = append(entries, s.transitionEntry(rest[i], active[1+i].Status, operatorID, now))
			}
			tx.UpdateBooking(rest[i])
		}
		if len(rest) > 0 {
			next = rest[0]
			hasNext = true
		}

		st.TotalServed++
		tx.PutStation(st)

		result = AdvanceResult{CompletedVehicleID: head.VehicleID, QueueLength: len(rest)}
		if hasNext {
			result.NextVehicleID = next.VehicleID
		}
		queueLength.WithLabelValues(stationID).Set(float64(len(rest)))
		return nil
	})
	if err != nil {
		advanceDuration.WithLabelValues("error").Observe(time.Since(started).Seconds())
		return AdvanceResult{}, fmt.Errorf("advance station %s: %w", stationID, err)
	}
	advanceDuration.WithLabelValues("ok").Observe(time.Since(started).Seconds())

	s.recordAudit(ctx, entries...)
	s.notify(ctx, domain.Notification{
		UserID: completed.RequesterID,
		Type:   "fueling_completed",
		Title:  "Fueling completed",
		Body:   "Thanks for visiting, your slot is complete.",
		Metadata: map[string]string{
			"booking_id": completed.ID.String(),
			"station_id": stationID,
		},
	})
	if hasNext {
		s.notify(ctx, domain.Notification{
			UserID: next.RequesterID,
			Type:   "your_turn",
			Title:  "You're up",
			Body:   "Please proceed to the pump, your vehicle is next.",
			Metadata: map[string]string{
				"booking_id": next.ID.String(),
				"station_id": stationID,
			},
		})
	}
	return result, nil
}

// SkipHead marks a no-show head booking skipped and reassigns the rest of
// the queue. A head that has physically checked in cannot be skipped.
func (s *Service) SkipHead(ctx context.Context, stationID string, operatorID uuid.UUID) (AdvanceResult, error) {
	ctx, span := s.tracer.Start(ctx, "queue.skip")
	defer span.End()

	var result AdvanceResult
	var entries []domain.QueueLogEntry
	var skipped domain.Booking

	err := s.withStationTx(ctx, stationID, func(tx domain.StationTx) error {
		entries = entries[:0]

		st, err := tx.Station()
		if err != nil {
			return err
		}
		active, err := tx.ActiveBookings()
		if err != nil {
			return err
		}

		head, ok := headOf(active)
		if !ok {
			return domain.ErrNoVehiclePresent
		}
		if head.Status != domain.StatusWaiting && head.Status != domain.StatusEligible {
			return domain.ErrInvalidTransition
		}

		now := s.clock.Now()
		prev := head.Status
		head.Status = domain.StatusSkipped
		head.SkippedAt = &now
		head.SkipCount++
		tx.UpdateBooking(head)
		skipped = head
		entries = append(entries, s.transitionEntry(head, prev, operatorID, now))

		rest := renumber(active[1:], now)
		for i := range rest {
			if rest[i].Status != active[1+i].Status {
				entries = append(entries, s.transitionEntry(rest[i], active[1+i].Status, operatorID, now))
			}
			tx.UpdateBooking(rest[i])
		}

		st.TotalSkipped++
		tx.PutStation(st)

		result = AdvanceResult{CompletedVehicleID: head.VehicleID, QueueLength: len(rest)}
		if len(rest) > 0 {
			result.NextVehicleID = rest[0].VehicleID
		}
		queueLength.WithLabelValues(stationID).Set(float64(len(rest)))
		return nil
	})
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("skip head at station %s: %w", stationID, err)
	}

	s.recordAudit(ctx, entries...)
	s.notify(ctx, domain.Notification{
		UserID: skipped.RequesterID,
		Type:   "booking_skipped",
		Title:  "Slot skipped",
		Body:   "Your vehicle was not present when called and the slot was skipped.",
		Metadata: map[string]string{
			"booking_id": skipped.ID.String(),
			"station_id": stationID,
		},
	})
	return result, nil
}

// headOf returns the lowest-position active booking. Positions can start
// past 1 after the head cancels; the advancement that consumes this head
// renumbers the remainder and heals the gap.
func headOf(active []domain.Booking) (domain.Booking, bool) {
	if len(active) == 0 {
		return domain.Booking{}, false
	}
	return active[0], true
}

// renumber reassigns positions 1..M preserving relative order and derives
// each booking's state from its new position and existing check-in flag.
func renumber(rest []domain.Booking, now time.Time) []domain.Booking {
	out := make([]domain.Booking, 0, len(rest))
	for i, b := range rest {
		pos := i + 1
		b.Position = pos
		switch {
		case pos == 1:
			b.Status = domain.StatusFueling
			if b.FuelingAt == nil {
				t := now
				b.FuelingAt = &t
			}
		case pos <= domain.EligibilityThreshold:
			if b.CheckedIn {
				b.Status = domain.StatusCheckedIn
			} else {
				b.Status = domain.StatusEligible
			}
			if b.EligibleAt == nil {
				t := now
				b.EligibleAt = &t
			}
		default:
			b.Status = domain.StatusWaiting
		}
		b.EstimatedWaitMinutes = (pos - 1) * domain.ServiceMinutesPerVehicle
		out = append(out, b)
	}
	return out
}

func (s *Service) transitionEntry(b domain.Booking, from domain.BookingStatus, actorID uuid.UUID, at time.Time) domain.QueueLogEntry {
	return domain.QueueLogEntry{
		ID:        uuid.New(),
		StationID: b.StationID,
		BookingID: b.ID,
		ActorID:   actorID,
		ActorRole: "operator",
		From:      from,
		To:        b.Status,
		At:        at,
	}
}
