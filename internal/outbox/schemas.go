package outbox

import (
	"fmt"

	"github.com/padrededios/stepzy/internal/events"
)

// catalogEntry routes an event type to its topic and JSON schema.
type catalogEntry struct {
	Topic  string
	Schema string
}

// Subject is the schema registry value subject for the entry's topic.
func (e catalogEntry) Subject() string {
	return e.Topic + "-value"
}

var schemaCatalog = map[string]catalogEntry{
	events.TypeSessionsCreated:  {Topic: events.TopicSessionsCreated, Schema: sessionsCreatedSchema},
	events.TypeSessionConfirmed: {Topic: events.TopicSessionConfirmed, Schema: sessionConfirmedSchema},
	events.TypeSessionCancelled: {Topic: events.TopicSessionCancelled, Schema: sessionCancelledSchema},
}

func lookupSchema(eventType string) (catalogEntry, error) {
	meta, ok := schemaCatalog[eventType]
	if !ok {
		return catalogEntry{}, fmt.Errorf("no schema metadata for event_type=%s", eventType)
	}
	return meta, nil
}

const sessionsCreatedSchema = `{
  "type": "object",
  "title": "SessionsCreated",
  "properties": {
    "activity_id": {"type": "string"},
    "session_ids": {"type": "array", "items": {"type": "string"}},
    "recipients": {"type": "array", "items": {"type": "string"}},
    "occurred_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["activity_id", "session_ids", "recipients", "occurred_at", "version"],
  "additionalProperties": false
}`

const sessionConfirmedSchema = `{
  "type": "object",
  "title": "SessionConfirmed",
  "properties": {
    "session_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "confirmed_count": {"type": "integer"},
    "recipients": {"type": "array", "items": {"type": "string"}},
    "occurred_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["session_id", "activity_id", "confirmed_count", "recipients", "occurred_at", "version"],
  "additionalProperties": false
}`

const sessionCancelledSchema = `{
  "type": "object",
  "title": "SessionCancelled",
  "properties": {
    "session_id": {"type": "string"},
    "activity_id": {"type": "string"},
    "reason": {"type": "string"},
    "recipients": {"type": "array", "items": {"type": "string"}},
    "occurred_at": {"type": "string", "format": "date-time"},
    "version": {"type": "string"}
  },
  "required": ["session_id", "activity_id", "recipients", "occurred_at", "version"],
  "additionalProperties": false
}`
