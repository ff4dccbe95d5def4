package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecurrenceType controls how an activity repeats.
type RecurrenceType string

const (
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

// Capacity bounds accepted for activities and sessions.
const (
	MinCapacity = 2
	MaxCapacity = 100
)

// Activity is the recurring template sessions are materialized from.
type Activity struct {
	ID            string
	Name          string
	Slug          string
	Sport         string
	MinPlayers    int
	MaxPlayers    int
	RecurringDays []time.Weekday
	RecurringType RecurrenceType
	StartTime     string
	EndTime       string
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Recurrence returns the rule the expander works from.
func (a Activity) Recurrence() Recurrence {
	return Recurrence{Days: a.RecurringDays, Type: a.RecurringType}
}

// OwnedBy reports whether the actor may manage the activity.
func (a Activity) OwnedBy(actor Actor) bool {
	return actor.Admin || (actor.UserID != "" && actor.UserID == a.CreatedBy)
}

// Actor identifies the caller of an owner-restricted operation.
type Actor struct {
	UserID string
	Admin  bool
}

// Subscription marks that a user follows an activity.
type Subscription struct {
	UserID     string
	ActivityID string
	CreatedAt  time.Time
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday converts a lowercase English day name into a time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return day, nil
}

// ParseWeekdays converts day names, dropping duplicates while keeping order.
func ParseWeekdays(names []string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]struct{}, len(names))
	out := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, day)
	}
	return out, nil
}

// WeekdayNames renders days the way they are stored and serialised.
func WeekdayNames(days []time.Weekday) []string {
	out := make([]string, 0, len(days))
	for _, day := range days {
		out = append(out, strings.ToLower(day.String()))
	}
	return out
}

// ParseRecurrenceType validates a recurrence type string.
func ParseRecurrenceType(value string) (RecurrenceType, error) {
	switch RecurrenceType(strings.ToLower(strings.TrimSpace(value))) {
	case RecurrenceWeekly:
		return RecurrenceWeekly, nil
	case RecurrenceMonthly:
		return RecurrenceMonthly, nil
	default:
		return "", fmt.Errorf("unknown recurring type %q", value)
	}
}

func validateActivity(a Activity) error {
	if strings.TrimSpace(a.Name) == "" {
		return ValidationError{Field: "name", Reason: "is required"}
	}
	if strings.TrimSpace(a.Sport) == "" {
		return ValidationError{Field: "sport", Reason: "is required"}
	}
	if a.MinPlayers < MinCapacity || a.MinPlayers > a.MaxPlayers || a.MaxPlayers > MaxCapacity {
		return ValidationError{Field: "max_players", Reason: fmt.Sprintf("require %d <= min_players <= max_players <= %d", MinCapacity, MaxCapacity)}
	}
	if len(a.RecurringDays) == 0 {
		return ValidationError{Field: "recurring_days", Reason: "must not be empty"}
	}
	if a.RecurringType != RecurrenceWeekly && a.RecurringType != RecurrenceMonthly {
		return ValidationError{Field: "recurring_type", Reason: "must be weekly or monthly"}
	}
	start, err := parseClock(a.StartTime)
	if err != nil {
		return ValidationError{Field: "start_time", Reason: err.Error()}
	}
	end, err := parseClock(a.EndTime)
	if err != nil {
		return ValidationError{Field: "end_time", Reason: err.Error()}
	}
	if !start.Before(end) {
		return ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	return nil
}

func parseClock(value string) (time.Time, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be HH:MM")
	}
	return t, nil
}
