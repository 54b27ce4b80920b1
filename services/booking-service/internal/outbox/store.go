package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
)

var ErrInvalidEvent = errors.New("invalid outbox event")

// Querier is the part of pgx.Tx the outbox uses. Every call runs inside the
// caller's transaction so staged events commit or roll back with the booking.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Pending is an outbox row that has not reached Kafka yet.
type Pending struct {
	ID        int64
	EventID   string
	Event     Event
	Trace     otelx.TraceContext
	CreatedAt time.Time
}

func (e Event) validate() error {
	switch e.EventType {
	case EventAppointmentScheduled, EventAppointmentRescheduled, EventAppointmentCancelled:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.EventType)
	}
	if e.AggregateType != AggregateAppointment || e.AggregateID == "" {
		return fmt.Errorf("%w: %s needs an appointment aggregate", ErrInvalidEvent, e.EventType)
	}
	if !json.Valid(e.Payload) {
		return fmt.Errorf("%w: %s payload is not json", ErrInvalidEvent, e.EventType)
	}
	return nil
}

// Append stages an appointment event along with the trace context of ctx.
func Append(ctx context.Context, q Querier, evt Event) error {
	if err := evt.validate(); err != nil {
		return err
	}
	tc := otelx.CaptureTraceContext(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Parent, tc.State)
	if err != nil {
		return fmt.Errorf("append %s for appointment %s: %w", evt.EventType, evt.AggregateID, err)
	}
	return nil
}

// ClaimPending locks up to limit unpublished rows in insertion order. Rows held
// by another publisher are skipped.
func ClaimPending(ctx context.Context, q Querier, limit int) ([]Pending, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := q.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		var p Pending
		if err := rows.Scan(&p.ID, &p.EventID, &p.Event.AggregateType, &p.Event.AggregateID, &p.Event.EventType,
			&p.Event.Payload, &p.Trace.Parent, &p.Trace.State, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func MarkPublished(ctx context.Context, q Querier, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
