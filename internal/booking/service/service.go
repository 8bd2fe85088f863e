package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// maxTxAttempts bounds transparent retries of a lost per-station race
// before ErrTransactionConflict reaches the caller.
const maxTxAttempts = 3

// Gate is the station control gateway consulted before booking creation.
type Gate interface {
	EnsureBookable(st domain.Station) error
}

// Service owns booking lifecycle transitions and queue advancement for all
// stations. All multi-document mutations run inside per-station
// transactions provided by the repository.
type Service struct {
	repo     domain.Repository
	gate     Gate
	notifier domain.Notifier
	audit    domain.AuditSink
	clock    domain.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New constructs a Service with the required collaborators. Notifier and
// audit sink may be nil; their failures are never surfaced.
func New(repo domain.Repository, gate Gate, notifier domain.Notifier, audit domain.AuditSink, clock domain.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Service{
		repo:     repo,
		gate:     gate,
		notifier: notifier,
		audit:    audit,
		clock:    clock,
		logger:   logger,
		tracer:   otel.Tracer("fuelqueue.booking"),
	}
}

// withStationTx retries the whole transaction body on a lost station race.
func (s *Service) withStationTx(ctx context.Context, stationID string, fn func(tx domain.StationTx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.repo.StationTx(ctx, stationID, fn)
		if !errors.Is(err, domain.ErrTransactionConflict) {
			return err
		}
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, entries ...domain.QueueLogEntry) {
	if s.audit == nil {
		return
	}
	for _, entry := range entries {
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Warn("audit record failed",
				zap.String("station_id", entry.StationID),
				zap.Stringer("booking_id", entry.BookingID),
				zap.Error(err))
		}
	}
}

func (s *Service) notify(ctx context.Context, n domain.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("notification delivery failed",
			zap.Stringer("user_id", n.UserID),
			zap.String("type", n.Type),
			zap.Error(err))
	}
}
