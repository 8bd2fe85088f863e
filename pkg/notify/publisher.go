package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/fuelqueue/internal/booking/domain"
)

// Publisher writes notification intents to a NATS subject. Delivery to the
// customer's device is the external notification service's job; this core
// only emits intents, fire-and-forget.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher builds a Publisher using the provided NATS connection.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = "queue.notifications"
	}
	return &Publisher{conn: conn, subject: subject}
}

// Notify satisfies domain.Notifier. A nil publisher or connection is a
// no-op so callers need no wiring-sensitive branches.
func (p *Publisher) Notify(ctx context.Context, n domain.Notification) error {
	if p == nil || p.conn == nil {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	return p.conn.PublishMsg(&nats.Msg{Subject: p.subject, Data: payload, Header: map[string][]string{
		"x-trace-id":          {traceIDFromContext(ctx)},
		"x-notification-type": {n.Type},
	}})
}

func traceIDFromContext(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span == nil {
		return ""
	}
	sc := span.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
