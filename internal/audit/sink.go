package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// LogSink records queue log entries to the service log. It is the default
// sink when no durable audit storage is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink constructs a logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Record writes the entry as a structured log line.
func (s *LogSink) Record(_ context.Context, entry domain.QueueLogEntry) error {
	s.logger.Info("queue audit",
		zap.Stringer("id", entry.ID),
		zap.String("station_id", entry.StationID),
		zap.Stringer("booking_id", entry.BookingID),
		zap.Stringer("actor_id", entry.ActorID),
		zap.String("actor_role", entry.ActorRole),
		zap.String("from", string(entry.From)),
		zap.String("to", string(entry.To)),
		zap.String("event", entry.Event),
		zap.Time("at", entry.At))
	return nil
}

// PostgresSink appends queue log entries to the queue_log table. Rows are
// never updated or deleted by this core; the dispatcher only flips the
// dispatched flag.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink constructs a Postgres-backed sink.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// EnsureSchema creates the queue_log table when missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS queue_log (
id UUID PRIMARY KEY,
station_id TEXT NOT NULL,
payload BYTEA NOT NULL,
dispatched BOOLEAN NOT NULL DEFAULT FALSE,
created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure queue_log schema: %w", err)
	}
	return nil
}

// Record appends one entry.
func (s *PostgresSink) Record(ctx context.Context, entry domain.QueueLogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue log entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO queue_log (id, station_id, payload, created_at) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.StationID, payload, entry.At)
	if err != nil {
		return fmt.Errorf("insert queue log entry: %w", err)
	}
	return nil
}
