// Package events defines the notification payloads published through the outbox.
package events

import "time"

// Event types carried in the outbox event_type column and the Kafka event_type header.
const (
	TypeSessionsCreated  = "sessions.created"
	TypeSessionConfirmed = "session.confirmed"
	TypeSessionCancelled = "session.cancelled"
)

// Kafka topics the outbox dispatcher routes each event type to.
const (
	TopicSessionsCreated  = "sessions_created"
	TopicSessionConfirmed = "session_confirmed"
	TopicSessionCancelled = "session_cancelled"
)

// SessionsCreated announces a materialization batch to an activity's subscribers.
type SessionsCreated struct {
	ActivityID string    `json:"activity_id"`
	SessionIDs []string  `json:"session_ids"`
	Recipients []string  `json:"recipients"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    string    `json:"version"`
}

// SessionConfirmed is emitted once a session reaches its activity's minimum players.
type SessionConfirmed struct {
	SessionID      string    `json:"session_id"`
	ActivityID     string    `json:"activity_id"`
	ConfirmedCount int       `json:"confirmed_count"`
	Recipients     []string  `json:"recipients"`
	OccurredAt     time.Time `json:"occurred_at"`
	Version        string    `json:"version"`
}

// SessionCancelled tells current participants that a session will not take place.
type SessionCancelled struct {
	SessionID  string    `json:"session_id"`
	ActivityID string    `json:"activity_id"`
	Reason     string    `json:"reason,omitempty"`
	Recipients []string  `json:"recipients"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    string    `json:"version"`
}

// Version is the payload version stamped on every event.
const Version = "v1"
