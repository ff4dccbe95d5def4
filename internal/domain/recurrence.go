package domain

import (
	"sort"
	"time"
)

// DefaultWeeksAhead is the materialization horizon used when callers pass none.
const DefaultWeeksAhead = 2

// sessionHour anchors every materialized session at midday, whatever the
// activity's configured start time.
const sessionHour = 12

// Recurrence is the part of an activity that drives date expansion.
type Recurrence struct {
	Days []time.Weekday
	Type RecurrenceType
}

// ExpandDates returns the ordered, deduplicated occurrence dates of rule between
// from and from+weeksAhead weeks (inclusive), each anchored at noon in loc.
func ExpandDates(rule Recurrence, from time.Time, weeksAhead int, loc *time.Location) []time.Time {
	if loc == nil {
		loc = time.Local
	}
	if weeksAhead <= 0 {
		weeksAhead = DefaultWeeksAhead
	}

	start := startOfDay(from.In(loc))
	end := start.AddDate(0, 0, weeksAhead*7)

	var days []time.Time
	switch rule.Type {
	case RecurrenceWeekly:
		days = expandWeekly(rule.Days, start, end)
	case RecurrenceMonthly:
		days = expandMonthly(rule.Days, start, end)
	default:
		return nil
	}

	seen := make(map[time.Time]struct{}, len(days))
	out := make([]time.Time, 0, len(days))
	for _, day := range days {
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, atSessionHour(day))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func expandWeekly(weekdays []time.Weekday, start, end time.Time) []time.Time {
	var out []time.Time
	for _, weekday := range weekdays {
		offset := (int(weekday) - int(start.Weekday()) + 7) % 7
		for day := start.AddDate(0, 0, offset); !day.After(end); day = day.AddDate(0, 0, 7) {
			out = append(out, day)
		}
	}
	return out
}

func expandMonthly(weekdays []time.Weekday, start, end time.Time) []time.Time {
	var out []time.Time
	for _, weekday := range weekdays {
		month := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
		for !month.After(end) {
			first := firstWeekdayOfMonth(month, weekday)
			if !first.Before(start) && !first.After(end) {
				out = append(out, first)
			}
			month = month.AddDate(0, 1, 0)
		}
	}
	return out
}

func firstWeekdayOfMonth(month time.Time, weekday time.Weekday) time.Time {
	offset := (int(weekday) - int(month.Weekday()) + 7) % 7
	return month.AddDate(0, 0, offset)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func atSessionHour(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, sessionHour, 0, 0, 0, day.Location())
}
