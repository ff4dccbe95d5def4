package sqlite

import (
	"strings"
	"time"

	"github.com/padrededios/stepzy/internal/domain"
)

const dayLayout = "2006-01-02"

// Instants are stored as Unix nanoseconds so SQLite compares them numerically.
type activityRecord struct {
	ID            string `gorm:"primaryKey"`
	Name          string `gorm:"not null"`
	Slug          string `gorm:"not null;index"`
	Sport         string `gorm:"not null"`
	MinPlayers    int    `gorm:"not null"`
	MaxPlayers    int    `gorm:"not null"`
	RecurringDays string `gorm:"not null"`
	RecurringType string `gorm:"not null"`
	StartTime     string `gorm:"not null"`
	EndTime       string `gorm:"not null"`
	CreatedBy     string `gorm:"not null"`
	CreatedNanos  int64  `gorm:"column:created_at;not null;index:idx_activities_created,priority:1"`
	UpdatedNanos  int64  `gorm:"column:updated_at;not null"`
}

func (activityRecord) TableName() string { return "activities" }

type subscriptionRecord struct {
	ActivityID   string `gorm:"primaryKey"`
	UserID       string `gorm:"primaryKey;index"`
	CreatedNanos int64  `gorm:"column:created_at;not null"`
}

func (subscriptionRecord) TableName() string { return "activity_subscriptions" }

type sessionRecord struct {
	ID           string `gorm:"primaryKey"`
	ActivityID   string `gorm:"not null;uniqueIndex:idx_sessions_activity_day,priority:1"`
	Day          string `gorm:"not null;uniqueIndex:idx_sessions_activity_day,priority:2"`
	DateNanos    int64  `gorm:"column:session_date;not null;index"`
	MaxPlayers   int    `gorm:"not null"`
	Status       string `gorm:"not null"`
	IsCancelled  bool   `gorm:"not null;default:false"`
	CreatedNanos int64  `gorm:"column:created_at;not null"`
	UpdatedNanos int64  `gorm:"column:updated_at;not null"`
}

func (sessionRecord) TableName() string { return "activity_sessions" }

type participantRecord struct {
	ID          string `gorm:"primaryKey"`
	SessionID   string `gorm:"not null;uniqueIndex:idx_participants_session_user,priority:1"`
	UserID      string `gorm:"not null;uniqueIndex:idx_participants_session_user,priority:2;index"`
	Status      string `gorm:"not null"`
	JoinedNanos int64  `gorm:"column:joined_at;not null"`
	Seq         int64  `gorm:"not null"`
}

func (participantRecord) TableName() string { return "session_participants" }

func toActivityRecord(a domain.Activity) activityRecord {
	return activityRecord{
		ID:            a.ID,
		Name:          a.Name,
		Slug:          a.Slug,
		Sport:         a.Sport,
		MinPlayers:    a.MinPlayers,
		MaxPlayers:    a.MaxPlayers,
		RecurringDays: strings.Join(domain.WeekdayNames(a.RecurringDays), ","),
		RecurringType: string(a.RecurringType),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		CreatedBy:     a.CreatedBy,
		CreatedNanos:  a.CreatedAt.UnixNano(),
		UpdatedNanos:  a.UpdatedAt.UnixNano(),
	}
}

func (r activityRecord) toDomain() (domain.Activity, error) {
	var names []string
	if r.RecurringDays != "" {
		names = strings.Split(r.RecurringDays, ",")
	}
	days, err := domain.ParseWeekdays(names)
	if err != nil {
		return domain.Activity{}, err
	}
	return domain.Activity{
		ID:            r.ID,
		Name:          r.Name,
		Slug:          r.Slug,
		Sport:         r.Sport,
		MinPlayers:    r.MinPlayers,
		MaxPlayers:    r.MaxPlayers,
		RecurringDays: days,
		RecurringType: domain.RecurrenceType(r.RecurringType),
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		CreatedBy:     r.CreatedBy,
		CreatedAt:     fromNanos(r.CreatedNanos),
		UpdatedAt:     fromNanos(r.UpdatedNanos),
	}, nil
}

func toSessionRecord(s domain.Session) sessionRecord {
	return sessionRecord{
		ID:           s.ID,
		ActivityID:   s.ActivityID,
		Day:          s.Day.Format(dayLayout),
		DateNanos:    s.Date.UnixNano(),
		MaxPlayers:   s.MaxPlayers,
		Status:       string(s.Status),
		IsCancelled:  s.IsCancelled,
		CreatedNanos: s.CreatedAt.UnixNano(),
		UpdatedNanos: s.UpdatedAt.UnixNano(),
	}
}

func (r sessionRecord) toDomain() domain.Session {
	day, _ := time.Parse(dayLayout, r.Day)
	return domain.Session{
		ID:          r.ID,
		ActivityID:  r.ActivityID,
		Date:        fromNanos(r.DateNanos),
		Day:         day,
		MaxPlayers:  r.MaxPlayers,
		Status:      domain.SessionStatus(r.Status),
		IsCancelled: r.IsCancelled,
		CreatedAt:   fromNanos(r.CreatedNanos),
		UpdatedAt:   fromNanos(r.UpdatedNanos),
	}
}

func toParticipantRecord(p domain.Participant) participantRecord {
	return participantRecord{
		ID:          p.ID,
		SessionID:   p.SessionID,
		UserID:      p.UserID,
		Status:      string(p.Status),
		JoinedNanos: p.JoinedAt.UnixNano(),
		Seq:         p.Seq,
	}
}

func (r participantRecord) toDomain() domain.Participant {
	return domain.Participant{
		ID:        r.ID,
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Status:    domain.ParticipantStatus(r.Status),
		JoinedAt:  fromNanos(r.JoinedNanos),
		Seq:       r.Seq,
	}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
