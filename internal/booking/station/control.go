package station

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// Gateway owns the station availability flags. Flipping a flag has no queue
// side effects: a live queue under a gas-off station simply stops accepting
// new bookings.
type Gateway struct {
	repo   domain.Repository
	audit  domain.AuditSink
	clock  domain.Clock
	logger *zap.Logger
}

// NewGateway constructs the control gateway.
func NewGateway(repo domain.Repository, audit domain.AuditSink, clock domain.Clock, logger *zap.Logger) *Gateway {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{repo: repo, audit: audit, clock: clock, logger: logger}
}

// EnsureBookable is the precondition gate consulted by the lifecycle
// manager before creating a booking.
func (g *Gateway) EnsureBookable(st domain.Station) error {
	if !st.AcceptsBookings() {
		return domain.ErrStationUnavailable
	}
	return nil
}

// SetGasAvailable flips the station's gas availability flag.
func (g *Gateway) SetGasAvailable(ctx context.Context, stationID string, value bool, actorID uuid.UUID, role string) (domain.Station, error) {
	return g.setFlag(ctx, stationID, actorID, role, fmt.Sprintf("gas_available=%t", value), func(st *domain.Station) {
		st.GasAvailable = value
	})
}

// SetBookingOpen flips the station's booking acceptance flag.
func (g *Gateway) SetBookingOpen(ctx context.Context, stationID string, value bool, actorID uuid.UUID, role string) (domain.Station, error) {
	return g.setFlag(ctx, stationID, actorID, role, fmt.Sprintf("booking_open=%t", value), func(st *domain.Station) {
		st.BookingOpen = value
	})
}

func (g *Gateway) setFlag(ctx context.Context, stationID string, actorID uuid.UUID, role, event string, apply func(st *domain.Station)) (domain.Station, error) {
	var updated domain.Station
	err := g.repo.StationTx(ctx, stationID, func(tx domain.StationTx) error {
		st, err := tx.Station()
		if err != nil {
			return err
		}
		apply(&st)
		tx.PutStation(st)
		updated = st
		return nil
	})
	if err != nil {
		return domain.Station{}, fmt.Errorf("set station flag: %w", err)
	}

	if g.audit != nil {
		entry := domain.QueueLogEntry{
			ID:        uuid.New(),
			StationID: stationID,
			ActorID:   actorID,
			ActorRole: role,
			Event:     event,
			At:        g.clock.Now(),
		}
		if err := g.audit.Record(ctx, entry); err != nil {
			g.logger.Warn("audit record failed", zap.String("station_id", stationID), zap.Error(err))
		}
	}
	return updated, nil
}
