package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpandDatesWeeklyAlternatesDays(t *testing.T) {
	monday := time.Date(2025, time.January, 6, 9, 30, 0, 0, time.UTC)
	rule := Recurrence{Days: []time.Weekday{time.Thursday, time.Tuesday}, Type: RecurrenceWeekly}

	dates := ExpandDates(rule, monday, 2, time.UTC)

	require.Len(t, dates, 4)
	want := []time.Weekday{time.Tuesday, time.Thursday, time.Tuesday, time.Thursday}
	end := monday.AddDate(0, 0, 14)
	for i, date := range dates {
		require.Equal(t, want[i], date.Weekday(), "date %d", i)
		require.False(t, date.Before(monday))
		require.False(t, date.After(end))
	}
	require.Equal(t, time.Date(2025, time.January, 7, 12, 0, 0, 0, time.UTC), dates[0])
	require.Equal(t, time.Date(2025, time.January, 16, 12, 0, 0, 0, time.UTC), dates[3])
}

func TestExpandDatesWeeklyIncludesWindowEnd(t *testing.T) {
	monday := time.Date(2025, time.January, 6, 18, 0, 0, 0, time.UTC)
	rule := Recurrence{Days: []time.Weekday{time.Monday}, Type: RecurrenceWeekly}

	dates := ExpandDates(rule, monday, 1, time.UTC)

	require.Equal(t, []time.Time{
		time.Date(2025, time.January, 6, 12, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 13, 12, 0, 0, 0, time.UTC),
	}, dates)
}

func TestExpandDatesMonthlyFirstWeekdayPerMonth(t *testing.T) {
	from := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	rule := Recurrence{Days: []time.Weekday{time.Friday}, Type: RecurrenceMonthly}

	dates := ExpandDates(rule, from, 8, time.UTC)

	require.Equal(t, []time.Time{
		time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC),
		time.Date(2025, time.April, 4, 12, 0, 0, 0, time.UTC),
	}, dates)
}

func TestExpandDatesMonthlySkipsOccurrenceBeforeWindow(t *testing.T) {
	from := time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	rule := Recurrence{Days: []time.Weekday{time.Friday}, Type: RecurrenceMonthly}

	dates := ExpandDates(rule, from, 4, time.UTC)

	require.Equal(t, []time.Time{time.Date(2025, time.April, 4, 12, 0, 0, 0, time.UTC)}, dates)
}

func TestExpandDatesDeduplicatesAndSorts(t *testing.T) {
	monday := time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)
	rule := Recurrence{Days: []time.Weekday{time.Wednesday, time.Monday, time.Wednesday}, Type: RecurrenceWeekly}

	dates := ExpandDates(rule, monday, 1, time.UTC)

	require.Equal(t, []time.Time{
		time.Date(2025, time.January, 6, 12, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 8, 12, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 13, 12, 0, 0, 0, time.UTC),
	}, dates)
}

func TestExpandDatesUsesLocalCalendar(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// Sunday 20:00 UTC is already Monday in loc.
	from := time.Date(2025, time.January, 5, 20, 0, 0, 0, time.UTC)
	rule := Recurrence{Days: []time.Weekday{time.Monday}, Type: RecurrenceWeekly}

	dates := ExpandDates(rule, from, 1, loc)

	require.Len(t, dates, 2)
	require.Equal(t, time.Date(2025, time.January, 6, 12, 0, 0, 0, loc), dates[0])
	require.Equal(t, loc, dates[0].Location())
}

func TestExpandDatesDefaultsHorizon(t *testing.T) {
	monday := time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC)
	rule := Recurrence{Days: []time.Weekday{time.Tuesday}, Type: RecurrenceWeekly}

	require.Len(t, ExpandDates(rule, monday, 0, time.UTC), 2)
	require.Empty(t, ExpandDates(Recurrence{Days: rule.Days, Type: "yearly"}, monday, 2, time.UTC))
}
