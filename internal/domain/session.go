package domain

import "time"

// SessionStatus is the reporting lifecycle of a session, independent of cancellation.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// ParticipantStatus is a participant's position in a session.
type ParticipantStatus string

const (
	ParticipantConfirmed  ParticipantStatus = "confirmed"
	ParticipantWaiting    ParticipantStatus = "waiting"
	ParticipantInterested ParticipantStatus = "interested"
)

// Session is one dated occurrence of an activity.
type Session struct {
	ID          string
	ActivityID  string
	Date        time.Time
	// Day is the civil date of Date, stored at UTC midnight. (ActivityID, Day) is unique.
	Day         time.Time
	MaxPlayers  int
	Status      SessionStatus
	IsCancelled bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Participant is a user's membership in one session.
type Participant struct {
	ID        string
	SessionID string
	UserID    string
	Status    ParticipantStatus
	JoinedAt  time.Time
	// Seq orders participants that joined at the same instant.
	Seq int64
}

// SessionPatch carries the owner-editable fields of a session.
type SessionPatch struct {
	MaxPlayers  *int
	IsCancelled *bool
}

// SessionView is a session annotated for one viewer.
type SessionView struct {
	Session         Session
	Activity        *Activity
	ConfirmedCount  int
	WaitingCount    int
	InterestedCount int
	AvailableSpots  int
	UserStatus      *Participant
	IsParticipant   bool
	CanJoin         bool
}

// SessionDetail is a session with its activity and full participant list.
type SessionDetail struct {
	Session      Session
	Activity     *Activity
	Participants []Participant
}

// CivilDay returns t's calendar date in loc, encoded at UTC midnight.
func CivilDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayBounds returns the [start, end) instants of t's calendar day in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

func countByStatus(participants []Participant) (confirmed, waiting, interested int) {
	for _, p := range participants {
		switch p.Status {
		case ParticipantConfirmed:
			confirmed++
		case ParticipantWaiting:
			waiting++
		case ParticipantInterested:
			interested++
		}
	}
	return confirmed, waiting, interested
}

func findParticipant(participants []Participant, userID string) (Participant, bool) {
	for _, p := range participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}
