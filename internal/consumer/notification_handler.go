package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/padrededios/stepzy/internal/events"
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// NotificationHandler fans each scheduler event out into one inbox row per recipient.
// Redelivered events are ignored through the (event_id, user_id) uniqueness constraint.
type NotificationHandler struct {
	db execer
}

// NewNotificationHandler constructs a handler writing through db, typically a *pgxpool.Pool.
func NewNotificationHandler(db execer) *NotificationHandler {
	return &NotificationHandler{db: db}
}

type inboxEntry struct {
	activityID string
	sessionID  *string
	recipients []string
}

// Handle implements Handler.
func (h *NotificationHandler) Handle(ctx context.Context, msg Message) error {
	entry, err := decodeInboxEntry(msg)
	if err != nil {
		return err
	}
	if len(entry.recipients) == 0 {
		return nil
	}

	const stmt = `INSERT INTO notifications (event_id, user_id, kind, activity_id, session_id, payload)
                   SELECT $1::text, recipient, $2::text, $3::text, $4::text, $5::jsonb
                   FROM unnest($6::text[]) AS recipient
                   ON CONFLICT (event_id, user_id) DO NOTHING`
	tag, err := h.db.Exec(ctx, stmt, msg.EventID, msg.EventType, entry.activityID, entry.sessionID, []byte(msg.Payload), entry.recipients)
	if err != nil {
		return fmt.Errorf("insert notifications for event %s: %w", msg.EventID, err)
	}
	recordInboxWrites(msg.EventType, tag.RowsAffected())
	return nil
}

func decodeInboxEntry(msg Message) (inboxEntry, error) {
	switch msg.EventType {
	case events.TypeSessionsCreated:
		var evt events.SessionsCreated
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return inboxEntry{}, fmt.Errorf("decode %s: %w: %w", msg.EventType, ErrUnhandled, err)
		}
		return inboxEntry{activityID: evt.ActivityID, recipients: evt.Recipients}, nil
	case events.TypeSessionConfirmed:
		var evt events.SessionConfirmed
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return inboxEntry{}, fmt.Errorf("decode %s: %w: %w", msg.EventType, ErrUnhandled, err)
		}
		return inboxEntry{activityID: evt.ActivityID, sessionID: &evt.SessionID, recipients: evt.Recipients}, nil
	case events.TypeSessionCancelled:
		var evt events.SessionCancelled
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return inboxEntry{}, fmt.Errorf("decode %s: %w: %w", msg.EventType, ErrUnhandled, err)
		}
		return inboxEntry{activityID: evt.ActivityID, sessionID: &evt.SessionID, recipients: evt.Recipients}, nil
	default:
		return inboxEntry{}, fmt.Errorf("%w: unsupported event type %q", ErrUnhandled, msg.EventType)
	}
}
