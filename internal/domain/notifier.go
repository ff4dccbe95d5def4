package domain

import (
	"context"
	"log"

	"github.com/padrededios/stepzy/internal/observability"
)

// Notifier receives the side effects of scheduling operations. Implementations
// record or forward the event; delivery happens elsewhere.
type Notifier interface {
	NotifyNewSessions(ctx context.Context, n NewSessionsNotice) error
	NotifySessionConfirmed(ctx context.Context, n SessionConfirmedNotice) error
	NotifySessionCancelled(ctx context.Context, n SessionCancelledNotice) error
}

// NewSessionsNotice announces a materialization batch to the activity's subscribers.
type NewSessionsNotice struct {
	ActivityID string
	SessionIDs []string
	Recipients []string
}

// SessionConfirmedNotice announces that a session reached its activity's minimum players.
type SessionConfirmedNotice struct {
	SessionID      string
	ActivityID     string
	ConfirmedCount int
	Recipients     []string
}

// SessionCancelledNotice announces a cancellation to current participants.
type SessionCancelledNotice struct {
	SessionID  string
	ActivityID string
	Reason     string
	Recipients []string
}

// LogNotifier writes notices to a logger. Used where no outbox is available.
type LogNotifier struct {
	Logger *log.Logger
}

func (n LogNotifier) logger() *log.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return log.Default()
}

// NotifyNewSessions implements Notifier.
func (n LogNotifier) NotifyNewSessions(_ context.Context, notice NewSessionsNotice) error {
	n.logger().Printf("sessions created (activity=%s, sessions=%d, recipients=%d)", notice.ActivityID, len(notice.SessionIDs), len(notice.Recipients))
	return nil
}

// NotifySessionConfirmed implements Notifier.
func (n LogNotifier) NotifySessionConfirmed(_ context.Context, notice SessionConfirmedNotice) error {
	n.logger().Printf("session confirmed (session=%s, confirmed=%d, recipients=%d)", notice.SessionID, notice.ConfirmedCount, len(notice.Recipients))
	return nil
}

// NotifySessionCancelled implements Notifier.
func (n LogNotifier) NotifySessionCancelled(_ context.Context, notice SessionCancelledNotice) error {
	n.logger().Printf("session cancelled (session=%s, reason=%q, recipients=%d)", notice.SessionID, notice.Reason, len(notice.Recipients))
	return nil
}

// notify runs a notifier call detached from the caller's cancellation and
// swallows its error: a failed notification never fails or rolls back the
// operation that triggered it.
func (s *Service) notify(ctx context.Context, kind string, call func(context.Context) error) {
	if err := call(context.WithoutCancel(ctx)); err != nil {
		s.logger.Printf("notification dropped (kind=%s): %v", kind, err)
		observability.RecordNotificationDropped(kind)
	}
}
