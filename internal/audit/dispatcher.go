package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	auditDispatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_dispatch_total",
		Help: "Total number of audit entries published to the audit subject.",
	})
	auditDispatchFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_dispatch_fail_total",
		Help: "Total number of audit publish failures after exhausting retries.",
	})
	auditLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audit_lag_seconds",
		Help: "Age of the oldest dispatched audit entry in seconds.",
	})
)

// DispatcherConfig defines tunables for the audit dispatch worker.
type DispatcherConfig struct {
	Subject      string
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
}

type natsPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Dispatcher drains undelivered queue log rows to the external audit
// subject. The external audit-log viewer consumes from NATS; the table is
// the durable buffer in between.
type Dispatcher struct {
	db        *sql.DB
	publisher natsPublisher
	logger    *zap.Logger
	cfg       DispatcherConfig
	tracer    trace.Tracer
}

// NewDispatcher constructs the dispatch worker.
func NewDispatcher(db *sql.DB, conn *nats.Conn, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Subject == "" {
		cfg.Subject = "queue.audit"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		db:        db,
		publisher: conn,
		logger:    logger,
		cfg:       cfg,
		tracer:    otel.Tracer("fuelqueue.audit.dispatcher"),
	}
}

// Run starts the polling loop until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.db == nil || d.publisher == nil {
		return errors.New("audit dispatcher requires database and NATS connection")
	}
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := d.dispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("audit dispatch batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type row struct {
	ID        string
	StationID string
	Payload   []byte
	CreatedAt time.Time
}

func (d *Dispatcher) dispatchOnce(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "audit.dispatch.batch")
	defer span.End()

	rows, tx, err := d.loadPending(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return tx.Commit()
	}

	ids := make([]string, 0, len(rows))
	maxLag := 0.0
	for _, rec := range rows {
		if err := d.publishWithRetry(ctx, rec); err != nil {
			_ = tx.Rollback()
			return err
		}
		ids = append(ids, rec.ID)
		auditDispatchTotal.Inc()
		if lag := time.Since(rec.CreatedAt).Seconds(); lag > maxLag {
			maxLag = lag
		}
	}
	auditLagSeconds.Set(maxLag)

	if err := d.markDispatched(ctx, tx, ids); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (d *Dispatcher) loadPending(ctx context.Context) ([]row, *sql.Tx, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	result, err := tx.QueryContext(ctx, `SELECT id, station_id, payload, created_at FROM queue_log WHERE dispatched = false ORDER BY created_at LIMIT $1 FOR UPDATE SKIP LOCKED`, d.cfg.BatchSize)
	if err != nil {
		_ = tx.Rollback()
		return nil, nil, fmt.Errorf("select queue_log: %w", err)
	}
	defer result.Close()

	var rows []row
	for result.Next() {
		var rec row
		if err := result.Scan(&rec.ID, &rec.StationID, &rec.Payload, &rec.CreatedAt); err != nil {
			_ = result.Close()
			_ = tx.Rollback()
			return nil, nil, fmt.Errorf("scan queue_log: %w", err)
		}
		rows = append(rows, rec)
	}
	if err := result.Err(); err != nil {
		_ = tx.Rollback()
		return nil, nil, fmt.Errorf("iterate queue_log: %w", err)
	}
	return rows, tx, nil
}

func (d *Dispatcher) markDispatched(ctx context.Context, tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf("UPDATE queue_log SET dispatched = true WHERE id IN (%s)", strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return nil
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, rec row) error {
	ctx, span := d.tracer.Start(ctx, "audit.dispatch.publish")
	defer span.End()

	msg := nats.NewMsg(d.cfg.Subject)
	msg.Data = rec.Payload
	msg.Header.Set("x-station-id", rec.StationID)
	if sc := span.SpanContext(); sc.IsValid() {
		msg.Header.Set("traceparent", fmt.Sprintf("00-%s-%s-01", sc.TraceID(), sc.SpanID()))
	}

	var attempt int
	for {
		attempt++
		err := d.publisher.PublishMsg(msg)
		if err == nil {
			return nil
		}
		d.logger.Warn("audit publish failed", zap.Error(err), zap.Int("attempt", attempt), zap.String("entry_id", rec.ID))
		if attempt >= d.cfg.RetryMax {
			auditDispatchFailTotal.Inc()
			return fmt.Errorf("publish audit entry %s: %w", rec.ID, err)
		}
		backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
