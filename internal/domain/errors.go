package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrSessionNotFound is returned when a session cannot be located.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCancelled is returned when joining a cancelled session.
	ErrSessionCancelled = errors.New("session is cancelled")
	// ErrAlreadyParticipating is returned on a duplicate join.
	ErrAlreadyParticipating = errors.New("user already participates in session")
	// ErrNotParticipating is returned when leaving a session the user never joined.
	ErrNotParticipating = errors.New("user does not participate in session")
	// ErrCapacityConflict is returned when a change would put more confirmed participants in a session than it holds.
	ErrCapacityConflict = errors.New("session capacity conflict")
	// ErrSessionExists is returned by stores when a session already exists for the activity and day.
	ErrSessionExists = errors.New("session already exists for activity and day")
	// ErrForbidden is returned when the actor does not own the activity.
	ErrForbidden = errors.New("actor may not manage this activity")
)

// ValidationError reports an invalid input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}
