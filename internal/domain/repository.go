package domain

import (
	"context"
	"time"
)

// Cursor models the activity list pagination token.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// UpcomingQuery selects sessions for the upcoming-session selector.
type UpcomingQuery struct {
	From        time.Time
	Status      SessionStatus
	ActivityIDs []string // nil means every activity
	Limit       int
}

// Repository captures the persistence operations the scheduler relies on.
// Lookups return (nil, nil) when the record does not exist.
type Repository interface {
	CreateActivity(ctx context.Context, activity Activity) error
	GetActivity(ctx context.Context, activityID string) (*Activity, error)
	UpdateActivity(ctx context.Context, activity Activity) error
	DeleteActivity(ctx context.Context, activityID string) error
	ListActivities(ctx context.Context, cursor *Cursor, limit int) ([]Activity, *Cursor, error)

	Subscribe(ctx context.Context, sub Subscription) error
	Unsubscribe(ctx context.Context, activityID, userID string) error
	ListSubscribedActivityIDs(ctx context.Context, userID string) ([]string, error)
	ListSubscribers(ctx context.Context, activityID string) ([]string, error)

	// FindSessionOnDay returns the activity's session whose date falls in [dayStart, dayEnd).
	FindSessionOnDay(ctx context.Context, activityID string, dayStart, dayEnd time.Time) (*Session, error)
	// CreateSession returns ErrSessionExists when (ActivityID, Day) is already taken.
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListUpcomingSessions(ctx context.Context, query UpcomingQuery) ([]Session, error)
	// ListUserSessionIDs returns sessions of the activity dated at or after from that the user participates in.
	ListUserSessionIDs(ctx context.Context, activityID, userID string, from time.Time) ([]string, error)

	// ListParticipants returns participants ordered by JoinedAt then Seq.
	ListParticipants(ctx context.Context, sessionID string) ([]Participant, error)
	ListParticipantsForSessions(ctx context.Context, sessionIDs []string) (map[string][]Participant, error)

	// WithSessionLock runs fn while holding an exclusive lock on the session
	// and its participant set. Writes made through tx commit only if fn
	// returns nil. Returns ErrSessionNotFound when the session is missing.
	// fn must read and write only through tx: a store may hold its single
	// connection for the whole callback.
	WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context, tx SessionTx) error) error
}

// SessionTx is the locked view of one session handed to WithSessionLock callbacks.
type SessionTx interface {
	Session() Session
	// Activity returns the session's activity, or nil when it no longer exists.
	Activity(ctx context.Context) (*Activity, error)
	UpdateSession(ctx context.Context, session Session) error
	ListParticipants(ctx context.Context) ([]Participant, error)
	InsertParticipant(ctx context.Context, participant Participant) error
	DeleteParticipant(ctx context.Context, userID string) error
	UpdateParticipantStatus(ctx context.Context, userID string, status ParticipantStatus) error
}
