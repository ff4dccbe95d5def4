package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/padrededios/stepzy/internal/domain"
	"github.com/padrededios/stepzy/internal/events"
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Emitter records scheduler notices as outbox rows for the Dispatcher to deliver.
type Emitter struct {
	db  execer
	now func() time.Time
}

var _ domain.Notifier = (*Emitter)(nil)

// NewEmitter returns an Emitter writing through db, typically a *pgxpool.Pool.
func NewEmitter(db execer) *Emitter {
	return &Emitter{db: db, now: time.Now}
}

// NotifyNewSessions implements domain.Notifier.
func (e *Emitter) NotifyNewSessions(ctx context.Context, n domain.NewSessionsNotice) error {
	return e.enqueue(ctx, events.TypeSessionsCreated, "activity", n.ActivityID, events.SessionsCreated{
		ActivityID: n.ActivityID,
		SessionIDs: nonNil(n.SessionIDs),
		Recipients: nonNil(n.Recipients),
		OccurredAt: e.now().UTC(),
		Version:    events.Version,
	})
}

// NotifySessionConfirmed implements domain.Notifier.
func (e *Emitter) NotifySessionConfirmed(ctx context.Context, n domain.SessionConfirmedNotice) error {
	return e.enqueue(ctx, events.TypeSessionConfirmed, "session", n.SessionID, events.SessionConfirmed{
		SessionID:      n.SessionID,
		ActivityID:     n.ActivityID,
		ConfirmedCount: n.ConfirmedCount,
		Recipients:     nonNil(n.Recipients),
		OccurredAt:     e.now().UTC(),
		Version:        events.Version,
	})
}

// NotifySessionCancelled implements domain.Notifier.
func (e *Emitter) NotifySessionCancelled(ctx context.Context, n domain.SessionCancelledNotice) error {
	return e.enqueue(ctx, events.TypeSessionCancelled, "session", n.SessionID, events.SessionCancelled{
		SessionID:  n.SessionID,
		ActivityID: n.ActivityID,
		Reason:     n.Reason,
		Recipients: nonNil(n.Recipients),
		OccurredAt: e.now().UTC(),
		Version:    events.Version,
	})
}

func (e *Emitter) enqueue(ctx context.Context, eventType, aggregateType, aggregateID string, payload any) error {
	meta, err := lookupSchema(eventType)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
                   VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := e.db.Exec(ctx, stmt, aggregateType, aggregateID, eventType, meta.Topic, meta.Subject(), aggregateID, body); err != nil {
		return fmt.Errorf("insert outbox %s: %w", eventType, err)
	}
	enqueuedCounter.WithLabelValues(eventType).Inc()
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
