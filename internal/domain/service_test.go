package domain_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padrededios/stepzy/internal/domain"
	"github.com/padrededios/stepzy/internal/persistence/memory"
)

// 2025-01-06 is a Monday.
var monday = time.Date(2025, time.January, 6, 8, 0, 0, 0, time.UTC)

var seedSeq atomic.Int64

func seedID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, seedSeq.Add(1))
}

type fixture struct {
	service  *domain.Service
	repo     *memory.Repository
	notifier *recordingNotifier
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOver(t, memory.NewRepository(), nil)
}

// newFixtureOver builds the service on wrap(repo) when wrap is set, while
// seeding and assertions keep going straight to repo.
func newFixtureOver(t *testing.T, repo *memory.Repository, wrap domain.Repository) *fixture {
	t.Helper()
	var store domain.Repository = repo
	if wrap != nil {
		store = wrap
	}
	notifier := &recordingNotifier{}
	clk := &clock{now: monday}
	service := domain.NewService(store,
		domain.WithNotifier(notifier),
		domain.WithClock(clk.Now),
		domain.WithLocation(time.UTC),
		domain.WithLogger(log.New(io.Discard, "", 0)),
	)
	return &fixture{service: service, repo: repo, notifier: notifier, clock: clk}
}

func (f *fixture) seedActivity(t *testing.T, mutate func(*domain.Activity)) domain.Activity {
	t.Helper()
	activity := domain.Activity{
		ID:            seedID("act"),
		Name:          "Tuesday Futsal",
		Slug:          "tuesday-futsal",
		Sport:         "futsal",
		MinPlayers:    2,
		MaxPlayers:    2,
		RecurringDays: []time.Weekday{time.Tuesday},
		RecurringType: domain.RecurrenceWeekly,
		StartTime:     "18:00",
		EndTime:       "19:30",
		CreatedBy:     "owner",
		CreatedAt:     monday,
		UpdatedAt:     monday,
	}
	if mutate != nil {
		mutate(&activity)
	}
	require.NoError(t, f.repo.CreateActivity(context.Background(), activity))
	return activity
}

func (f *fixture) seedSession(t *testing.T, activityID string, date time.Time, capacity int) domain.Session {
	t.Helper()
	session := domain.Session{
		ID:         seedID("ses"),
		ActivityID: activityID,
		Date:       date,
		Day:        domain.CivilDay(date, time.UTC),
		MaxPlayers: capacity,
		Status:     domain.SessionStatusActive,
		CreatedAt:  monday,
		UpdatedAt:  monday,
	}
	require.NoError(t, f.repo.CreateSession(context.Background(), session))
	return session
}

func (f *fixture) statuses(t *testing.T, sessionID string) map[string]domain.ParticipantStatus {
	t.Helper()
	participants, err := f.repo.ListParticipants(context.Background(), sessionID)
	require.NoError(t, err)
	out := make(map[string]domain.ParticipantStatus, len(participants))
	for _, p := range participants {
		out[p.UserID] = p.Status
	}
	return out
}

func TestGenerateSessionsIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) {
		a.RecurringDays = []time.Weekday{time.Tuesday, time.Thursday}
	})

	first, err := f.service.GenerateSessions(ctx, activity.ID, monday, 2)
	require.NoError(t, err)
	require.Len(t, first, 4)

	second, err := f.service.GenerateSessions(ctx, activity.ID, monday, 2)
	require.NoError(t, err)
	require.Empty(t, second)

	upcoming, err := f.repo.ListUpcomingSessions(ctx, domain.UpcomingQuery{From: monday, Limit: 100})
	require.NoError(t, err)
	require.Len(t, upcoming, 4)
}

func TestGenerateSessionsAnchorsAtNoonAndSnapshotsCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) {
		a.MaxPlayers = 12
		a.StartTime = "07:15"
	})

	created, err := f.service.GenerateSessions(ctx, activity.ID, monday, 1)
	require.NoError(t, err)
	require.Len(t, created, 1)

	session := created[0]
	require.Equal(t, time.Date(2025, time.January, 7, 12, 0, 0, 0, time.UTC), session.Date)
	require.Equal(t, 12, session.MaxPlayers)
	require.Equal(t, domain.SessionStatusActive, session.Status)
	require.False(t, session.IsCancelled)

	_, err = f.service.UpdateActivity(ctx, domain.Actor{UserID: "owner"}, activity.ID, domain.ActivityPatch{MaxPlayers: intPtr(20)})
	require.NoError(t, err)

	stored, err := f.repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 12, stored.MaxPlayers, "existing sessions keep their capacity snapshot")
}

func TestGenerateSessionsSkipsDayWithExistingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	// A session at a different hour on the same day still counts.
	f.seedSession(t, activity.ID, time.Date(2025, time.January, 7, 18, 0, 0, 0, time.UTC), 2)

	created, err := f.service.GenerateSessions(ctx, activity.ID, monday, 2)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, 14, created[0].Date.Day())
}

func TestGenerateSessionsUnknownActivity(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GenerateSessions(context.Background(), "missing", monday, 2)
	require.ErrorIs(t, err, domain.ErrActivityNotFound)
}

func TestGenerateSessionsNotifiesOncePerBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) {
		a.RecurringDays = []time.Weekday{time.Tuesday, time.Thursday}
	})
	require.NoError(t, f.service.Subscribe(ctx, activity.ID, "u1"))

	created, err := f.service.GenerateSessions(ctx, activity.ID, monday, 2)
	require.NoError(t, err)
	_, err = f.service.GenerateSessions(ctx, activity.ID, monday, 2)
	require.NoError(t, err)

	notices := f.notifier.newSessions()
	require.Len(t, notices, 1)
	require.Equal(t, activity.ID, notices[0].ActivityID)
	require.Len(t, notices[0].SessionIDs, len(created))
	require.Equal(t, []string{"u1"}, notices[0].Recipients)
}

func TestGenerateSessionsSwallowsNotifierFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.setErr(errors.New("outbox unavailable"))
	activity := f.seedActivity(t, nil)

	created, err := f.service.GenerateSessions(context.Background(), activity.ID, monday, 1)
	require.NoError(t, err)
	require.Len(t, created, 1)
}

func TestGenerateSessionsConcurrentCallsDoNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) {
		a.RecurringDays = []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	})

	var wg sync.WaitGroup
	totals := make([]int, 8)
	for i := range totals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := f.service.GenerateSessions(ctx, activity.ID, monday, 2)
			assert.NoError(t, err)
			totals[i] = len(created)
		}(i)
	}
	wg.Wait()

	sum := 0
	for _, n := range totals {
		sum += n
	}
	upcoming, err := f.repo.ListUpcomingSessions(ctx, domain.UpcomingQuery{From: monday.AddDate(0, 0, -1), Limit: 100})
	require.NoError(t, err)
	require.Equal(t, len(upcoming), sum)
	require.Len(t, upcoming, 7)
}

func TestGenerateSessionsAcrossServicesSkipsStoreDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) {
		a.RecurringDays = []time.Weekday{time.Monday, time.Wednesday, time.Friday}
	})
	// A second process shares the store but not the in-process activity lock.
	other := domain.NewService(f.repo,
		domain.WithClock(f.clock.Now),
		domain.WithLocation(time.UTC),
		domain.WithLogger(log.New(io.Discard, "", 0)),
	)
	services := []*domain.Service{f.service, other}

	var wg sync.WaitGroup
	totals := make([]int, 16)
	for i := range totals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := services[i%2].GenerateSessions(ctx, activity.ID, monday, 2)
			assert.NoError(t, err)
			totals[i] = len(created)
		}(i)
	}
	wg.Wait()

	sum := 0
	for _, n := range totals {
		sum += n
	}
	upcoming, err := f.repo.ListUpcomingSessions(ctx, domain.UpcomingQuery{From: monday.AddDate(0, 0, -1), Limit: 100})
	require.NoError(t, err)
	require.Len(t, upcoming, 7)
	require.Equal(t, 7, sum)
}

func TestGenerateAllSessionsCoversEveryActivity(t *testing.T) {
	f := newFixture(t)
	f.seedActivity(t, nil)
	f.seedActivity(t, func(a *domain.Activity) {
		a.RecurringDays = []time.Weekday{time.Saturday}
	})

	total, err := f.service.GenerateAllSessions(context.Background(), monday, 1)
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestJoinSessionConfirmsUntilFullThenWaitlists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) { a.MaxPlayers = 3 })
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 3)

	for i, user := range []string{"a", "b", "c", "d", "e"} {
		p, err := f.service.JoinSession(ctx, session.ID, user)
		require.NoError(t, err)
		want := domain.ParticipantConfirmed
		if i >= 3 {
			want = domain.ParticipantWaiting
		}
		require.Equal(t, want, p.Status, "user %s", user)
	}
}

func TestJoinSessionRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 2)

	_, err := f.service.JoinSession(ctx, "missing", "u1")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.service.JoinSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	_, err = f.service.JoinSession(ctx, session.ID, "u1")
	require.ErrorIs(t, err, domain.ErrAlreadyParticipating)

	_, err = f.service.MarkInterested(ctx, session.ID, "u1")
	require.ErrorIs(t, err, domain.ErrAlreadyParticipating)

	cancelled := true
	_, err = f.service.UpdateSession(ctx, domain.Actor{UserID: "owner"}, session.ID, domain.SessionPatch{IsCancelled: &cancelled}, "rain")
	require.NoError(t, err)
	_, err = f.service.JoinSession(ctx, session.ID, "u2")
	require.ErrorIs(t, err, domain.ErrSessionCancelled)
}

func TestInterestedParticipantsDoNotUseCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 2)

	p, err := f.service.MarkInterested(ctx, session.ID, "fan")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantInterested, p.Status)

	for _, user := range []string{"a", "b"} {
		p, err := f.service.JoinSession(ctx, session.ID, user)
		require.NoError(t, err)
		require.Equal(t, domain.ParticipantConfirmed, p.Status)
	}

	confirmed := f.notifier.confirmedNotices()
	require.Len(t, confirmed, 1)
	require.ElementsMatch(t, []string{"fan", "a", "b"}, confirmed[0].Recipients)

	// An interested user leaving frees nothing and promotes nobody.
	_, err = f.service.JoinSession(ctx, session.ID, "c")
	require.NoError(t, err)
	require.NoError(t, f.service.LeaveSession(ctx, session.ID, "fan"))
	require.Equal(t, domain.ParticipantWaiting, f.statuses(t, session.ID)["c"])
}

func TestLeaveSessionPromotesLongestWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 1)

	// All three join at the same instant: insertion order decides.
	for _, user := range []string{"A", "B", "C"} {
		_, err := f.service.JoinSession(ctx, session.ID, user)
		require.NoError(t, err)
	}
	require.Equal(t, map[string]domain.ParticipantStatus{
		"A": domain.ParticipantConfirmed,
		"B": domain.ParticipantWaiting,
		"C": domain.ParticipantWaiting,
	}, f.statuses(t, session.ID))

	require.NoError(t, f.service.LeaveSession(ctx, session.ID, "A"))

	require.Equal(t, map[string]domain.ParticipantStatus{
		"B": domain.ParticipantConfirmed,
		"C": domain.ParticipantWaiting,
	}, f.statuses(t, session.ID))
}

func TestLeaveSessionPromotesByJoinTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 1)

	for _, user := range []string{"A", "B", "C"} {
		f.clock.advance(time.Minute)
		_, err := f.service.JoinSession(ctx, session.ID, user)
		require.NoError(t, err)
	}
	require.NoError(t, f.service.LeaveSession(ctx, session.ID, "A"))
	require.NoError(t, f.service.LeaveSession(ctx, session.ID, "B"))

	require.Equal(t, map[string]domain.ParticipantStatus{"C": domain.ParticipantConfirmed}, f.statuses(t, session.ID))
}

func TestLeaveSessionWaitingDoesNotPromote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 1)

	for _, user := range []string{"A", "B", "C"} {
		_, err := f.service.JoinSession(ctx, session.ID, user)
		require.NoError(t, err)
	}
	require.NoError(t, f.service.LeaveSession(ctx, session.ID, "B"))

	require.Equal(t, map[string]domain.ParticipantStatus{
		"A": domain.ParticipantConfirmed,
		"C": domain.ParticipantWaiting,
	}, f.statuses(t, session.ID))
}

func TestLeaveSessionNotParticipating(t *testing.T) {
	f := newFixture(t)
	activity := f.seedActivity(t, nil)
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 2)

	err := f.service.LeaveSession(context.Background(), session.ID, "ghost")
	require.ErrorIs(t, err, domain.ErrNotParticipating)

	err = f.service.LeaveSession(context.Background(), "missing", "ghost")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCapacityHoldsUnderConcurrentJoinsAndLeaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) { a.MaxPlayers = 5 })
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 5)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			_, err := f.service.JoinSession(ctx, session.ID, user)
			assert.NoError(t, err)
			if i%3 == 0 {
				assert.NoError(t, f.service.LeaveSession(ctx, session.ID, user))
			}
		}(i)
	}
	wg.Wait()

	confirmed := 0
	waiting := 0
	for _, status := range f.statuses(t, session.ID) {
		switch status {
		case domain.ParticipantConfirmed:
			confirmed++
		case domain.ParticipantWaiting:
			waiting++
		}
	}
	require.Equal(t, 5, confirmed)
	require.Equal(t, 40-14-5, waiting)
}

func TestUpdateSessionCancellationNotifiesParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) { a.MinPlayers = 3; a.MaxPlayers = 3 })
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 1)

	_, err := f.service.JoinSession(ctx, session.ID, "a")
	require.NoError(t, err)
	_, err = f.service.JoinSession(ctx, session.ID, "b")
	require.NoError(t, err)

	cancelled := true
	_, err = f.service.UpdateSession(ctx, domain.Actor{UserID: "stranger"}, session.ID, domain.SessionPatch{IsCancelled: &cancelled}, "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	updated, err := f.service.UpdateSession(ctx, domain.Actor{UserID: "owner"}, session.ID, domain.SessionPatch{IsCancelled: &cancelled}, "pitch flooded")
	require.NoError(t, err)
	require.True(t, updated.IsCancelled)

	// Cancelling again is not a transition.
	_, err = f.service.UpdateSession(ctx, domain.Actor{Admin: true}, session.ID, domain.SessionPatch{IsCancelled: &cancelled}, "again")
	require.NoError(t, err)

	notices := f.notifier.cancelledNotices()
	require.Len(t, notices, 1)
	require.Equal(t, "pitch flooded", notices[0].Reason)
	require.ElementsMatch(t, []string{"a", "b"}, notices[0].Recipients)
}

func TestUpdateSessionCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) { a.MaxPlayers = 4 })
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 4)
	for _, user := range []string{"a", "b", "c"} {
		_, err := f.service.JoinSession(ctx, session.ID, user)
		require.NoError(t, err)
	}

	_, err := f.service.UpdateSession(ctx, domain.Actor{UserID: "owner"}, session.ID, domain.SessionPatch{MaxPlayers: intPtr(2)}, "")
	require.ErrorIs(t, err, domain.ErrCapacityConflict)

	_, err = f.service.UpdateSession(ctx, domain.Actor{UserID: "owner"}, session.ID, domain.SessionPatch{MaxPlayers: intPtr(101)}, "")
	var validation domain.ValidationError
	require.ErrorAs(t, err, &validation)

	updated, err := f.service.UpdateSession(ctx, domain.Actor{UserID: "owner"}, session.ID, domain.SessionPatch{MaxPlayers: intPtr(3)}, "")
	require.NoError(t, err)
	require.Equal(t, 3, updated.MaxPlayers)
	require.Empty(t, f.notifier.cancelledNotices())

	p, err := f.service.JoinSession(ctx, session.ID, "d")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantWaiting, p.Status)
}

func TestGetUpcomingSessionsRequiresSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	_, err := f.service.GenerateSessions(ctx, activity.ID, monday, 2)
	require.NoError(t, err)

	views, err := f.service.GetUpcomingSessions(ctx, 10, "loner")
	require.NoError(t, err)
	require.NotNil(t, views)
	require.Empty(t, views)

	anonymous, err := f.service.GetUpcomingSessions(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, anonymous, 2)
}

func TestGetUpcomingSessionsExcludesJoinedSessionsAfterLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	created, err := f.service.GenerateSessions(ctx, activity.ID, monday, 3)
	require.NoError(t, err)
	require.Len(t, created, 3)
	require.NoError(t, f.service.Subscribe(ctx, activity.ID, "u1"))

	_, err = f.service.JoinSession(ctx, created[0].ID, "u1")
	require.NoError(t, err)

	views, err := f.service.GetUpcomingSessions(ctx, 2, "u1")
	require.NoError(t, err)
	require.Len(t, views, 1, "joined session is dropped without refilling the page")
	require.Equal(t, created[1].ID, views[0].Session.ID)
	require.False(t, views[0].IsParticipant)
	require.Nil(t, views[0].UserStatus)
}

func TestGetUpcomingSessionsAnnotatesCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) { a.MaxPlayers = 2 })
	require.NoError(t, f.service.Subscribe(ctx, activity.ID, "viewer"))

	open := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 2)
	full := f.seedSession(t, activity.ID, monday.Add(52*time.Hour), 2)
	past := f.seedSession(t, activity.ID, monday.Add(-20*time.Hour), 2)
	cancelled := f.seedSession(t, activity.ID, monday.Add(76*time.Hour), 2)

	_, err := f.service.MarkInterested(ctx, open.ID, "fan")
	require.NoError(t, err)
	for _, user := range []string{"a", "b", "c"} {
		_, err := f.service.JoinSession(ctx, full.ID, user)
		require.NoError(t, err)
	}
	yes := true
	_, err = f.service.UpdateSession(ctx, domain.Actor{UserID: "owner"}, cancelled.ID, domain.SessionPatch{IsCancelled: &yes}, "")
	require.NoError(t, err)

	views, err := f.service.GetUpcomingSessions(ctx, 10, "viewer")
	require.NoError(t, err)
	require.Len(t, views, 3)

	byID := make(map[string]domain.SessionView)
	for _, view := range views {
		byID[view.Session.ID] = view
	}
	require.NotContains(t, byID, past.ID)

	require.Equal(t, 0, byID[open.ID].ConfirmedCount)
	require.Equal(t, 1, byID[open.ID].InterestedCount)
	require.Equal(t, 2, byID[open.ID].AvailableSpots)
	require.True(t, byID[open.ID].CanJoin)

	require.Equal(t, 2, byID[full.ID].ConfirmedCount)
	require.Equal(t, 1, byID[full.ID].WaitingCount)
	require.Equal(t, 0, byID[full.ID].AvailableSpots)
	require.False(t, byID[full.ID].CanJoin)

	require.True(t, byID[cancelled.ID].Session.IsCancelled)
	require.False(t, byID[cancelled.ID].CanJoin)

	require.Equal(t, open.ID, views[0].Session.ID)
	require.NotNil(t, views[0].Activity)
}

func TestFindSessionByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 2)
	_, err := f.service.JoinSession(ctx, session.ID, "a")
	require.NoError(t, err)

	detail, err := f.service.FindSessionByID(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, activity.ID, detail.Activity.ID)
	require.Len(t, detail.Participants, 1)

	_, err = f.service.FindSessionByID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestCreateActivitySubscribesCreatorAndMaterializes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	activity, err := f.service.CreateActivity(ctx, domain.Actor{UserID: "coach"}, domain.CreateActivityInput{
		Name:          "Jeudi Basket Loisir",
		Sport:         "basketball",
		MinPlayers:    4,
		MaxPlayers:    10,
		RecurringDays: []time.Weekday{time.Thursday},
		RecurringType: domain.RecurrenceWeekly,
		StartTime:     "19:00",
		EndTime:       "21:00",
	})
	require.NoError(t, err)
	require.Equal(t, "jeudi-basket-loisir", activity.Slug)
	require.Equal(t, "coach", activity.CreatedBy)

	subscribed, err := f.repo.ListSubscribedActivityIDs(ctx, "coach")
	require.NoError(t, err)
	require.Equal(t, []string{activity.ID}, subscribed)

	views, err := f.service.GetUpcomingSessions(ctx, 10, "coach")
	require.NoError(t, err)
	require.Len(t, views, 2)
}

func TestCreateActivityValidation(t *testing.T) {
	f := newFixture(t)
	base := domain.CreateActivityInput{
		Name:          "Padel",
		Sport:         "padel",
		MinPlayers:    2,
		MaxPlayers:    4,
		RecurringDays: []time.Weekday{time.Sunday},
		RecurringType: domain.RecurrenceMonthly,
		StartTime:     "10:00",
		EndTime:       "11:00",
	}

	cases := map[string]func(*domain.CreateActivityInput){
		"min below two":     func(in *domain.CreateActivityInput) { in.MinPlayers = 1 },
		"min above max":     func(in *domain.CreateActivityInput) { in.MinPlayers = 5 },
		"max above hundred": func(in *domain.CreateActivityInput) { in.MaxPlayers = 101 },
		"no days":           func(in *domain.CreateActivityInput) { in.RecurringDays = nil },
		"bad type":          func(in *domain.CreateActivityInput) { in.RecurringType = "daily" },
		"bad clock":         func(in *domain.CreateActivityInput) { in.StartTime = "25:00" },
		"end before start":  func(in *domain.CreateActivityInput) { in.EndTime = "09:00" },
		"blank name":        func(in *domain.CreateActivityInput) { in.Name = "  " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := base
			mutate(&input)
			_, err := f.service.CreateActivity(context.Background(), domain.Actor{UserID: "coach"}, input)
			var validation domain.ValidationError
			require.ErrorAs(t, err, &validation)
		})
	}
}

func TestDeleteActivityRequiresOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	_, err := f.service.GenerateSessions(ctx, activity.ID, monday, 1)
	require.NoError(t, err)

	require.ErrorIs(t, f.service.DeleteActivity(ctx, domain.Actor{UserID: "other"}, activity.ID), domain.ErrForbidden)
	require.NoError(t, f.service.DeleteActivity(ctx, domain.Actor{UserID: "owner"}, activity.ID))

	_, err = f.service.GetActivity(ctx, activity.ID)
	require.ErrorIs(t, err, domain.ErrActivityNotFound)
	upcoming, err := f.repo.ListUpcomingSessions(ctx, domain.UpcomingQuery{From: monday, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, upcoming)
}

func TestUnsubscribeDropsFutureParticipationOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) { a.MaxPlayers = 1 })
	past := f.seedSession(t, activity.ID, monday.Add(-44*time.Hour), 1)
	future := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 1)
	require.NoError(t, f.service.Subscribe(ctx, activity.ID, "u1"))

	for _, id := range []string{past.ID, future.ID} {
		_, err := f.service.JoinSession(ctx, id, "u1")
		require.NoError(t, err)
	}
	_, err := f.service.JoinSession(ctx, future.ID, "u2")
	require.NoError(t, err)

	require.NoError(t, f.service.Unsubscribe(ctx, activity.ID, "u1"))

	require.Contains(t, f.statuses(t, past.ID), "u1")
	require.Equal(t, map[string]domain.ParticipantStatus{"u2": domain.ParticipantConfirmed}, f.statuses(t, future.ID))
	subscribed, err := f.repo.ListSubscribedActivityIDs(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, subscribed)

	require.ErrorIs(t, f.service.Unsubscribe(ctx, "missing", "u1"), domain.ErrActivityNotFound)
}

func TestUnsubscribeFailureKeepsParticipation(t *testing.T) {
	mem := memory.NewRepository()
	store := &faultyRepository{Repository: mem, unsubscribeErr: errors.New("connection reset")}
	f := newFixtureOver(t, mem, store)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	future := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 2)
	require.NoError(t, f.service.Subscribe(ctx, activity.ID, "u1"))
	_, err := f.service.JoinSession(ctx, future.ID, "u1")
	require.NoError(t, err)

	require.ErrorIs(t, f.service.Unsubscribe(ctx, activity.ID, "u1"), store.unsubscribeErr)
	require.Equal(t, map[string]domain.ParticipantStatus{"u1": domain.ParticipantConfirmed}, f.statuses(t, future.ID))
	subscribed, err := mem.ListSubscribedActivityIDs(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{activity.ID}, subscribed)

	store.unsubscribeErr = nil
	require.NoError(t, f.service.Unsubscribe(ctx, activity.ID, "u1"))
	require.Empty(t, f.statuses(t, future.ID))
}

func TestSessionWorkReadsActivityInsideLockedUnit(t *testing.T) {
	mem := memory.NewRepository()
	store := &faultyRepository{Repository: mem}
	f := newFixtureOver(t, mem, store)
	ctx := context.Background()
	activity := f.seedActivity(t, nil)
	session := f.seedSession(t, activity.ID, monday.Add(28*time.Hour), 2)

	_, err := f.service.JoinSession(ctx, session.ID, "u1")
	require.NoError(t, err)
	_, err = f.service.JoinSession(ctx, session.ID, "u2")
	require.NoError(t, err)
	_, err = f.service.MarkInterested(ctx, session.ID, "u3")
	require.NoError(t, err)
	require.NoError(t, f.service.LeaveSession(ctx, session.ID, "u2"))

	capacity, cancelled := 3, true
	updated, err := f.service.UpdateSession(ctx, domain.Actor{UserID: "owner"}, session.ID,
		domain.SessionPatch{MaxPlayers: &capacity, IsCancelled: &cancelled}, "rain")
	require.NoError(t, err)
	require.True(t, updated.IsCancelled)
	_, err = f.service.UpdateSession(ctx, domain.Actor{UserID: "stranger"}, session.ID, domain.SessionPatch{MaxPlayers: &capacity}, "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	require.Zero(t, store.lockedReads.Load())
	require.Len(t, f.notifier.confirmedNotices(), 1)
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activity := f.seedActivity(t, func(a *domain.Activity) {
		a.RecurringDays = []time.Weekday{time.Tuesday}
		a.MinPlayers = 2
		a.MaxPlayers = 2
	})

	created, err := f.service.GenerateSessions(ctx, activity.ID, monday, 1)
	require.NoError(t, err)
	require.Len(t, created, 1)
	session := created[0]
	require.Equal(t, time.Date(2025, time.January, 7, 12, 0, 0, 0, time.UTC), session.Date)

	p1, err := f.service.JoinSession(ctx, session.ID, "U1")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantConfirmed, p1.Status)
	require.Empty(t, f.notifier.confirmedNotices())

	p2, err := f.service.JoinSession(ctx, session.ID, "U2")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantConfirmed, p2.Status)
	require.Len(t, f.notifier.confirmedNotices(), 1)
	require.Equal(t, 2, f.notifier.confirmedNotices()[0].ConfirmedCount)

	p3, err := f.service.JoinSession(ctx, session.ID, "U3")
	require.NoError(t, err)
	require.Equal(t, domain.ParticipantWaiting, p3.Status)

	require.NoError(t, f.service.LeaveSession(ctx, session.ID, "U1"))
	require.Equal(t, map[string]domain.ParticipantStatus{
		"U2": domain.ParticipantConfirmed,
		"U3": domain.ParticipantConfirmed,
	}, f.statuses(t, session.ID))
	require.Len(t, f.notifier.confirmedNotices(), 1, "promotion does not announce again")
}

func intPtr(v int) *int { return &v }

// faultyRepository wraps the memory store to inject failures and to count
// repository reads made while a session lock is held. A store that keeps one
// connection per locked unit would need a second connection for such a read.
type faultyRepository struct {
	*memory.Repository
	unsubscribeErr error
	locked         atomic.Int32
	lockedReads    atomic.Int32
}

func (r *faultyRepository) Unsubscribe(ctx context.Context, activityID, userID string) error {
	if r.unsubscribeErr != nil {
		return r.unsubscribeErr
	}
	return r.Repository.Unsubscribe(ctx, activityID, userID)
}

func (r *faultyRepository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	if r.locked.Load() > 0 {
		r.lockedReads.Add(1)
	}
	return r.Repository.GetActivity(ctx, activityID)
}

func (r *faultyRepository) WithSessionLock(ctx context.Context, sessionID string, fn func(context.Context, domain.SessionTx) error) error {
	return r.Repository.WithSessionLock(ctx, sessionID, func(ctx context.Context, tx domain.SessionTx) error {
		r.locked.Add(1)
		defer r.locked.Add(-1)
		return fn(ctx, tx)
	})
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu        sync.Mutex
	err       error
	created   []domain.NewSessionsNotice
	confirmed []domain.SessionConfirmedNotice
	cancelled []domain.SessionCancelledNotice
}

func (n *recordingNotifier) setErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *recordingNotifier) NotifyNewSessions(_ context.Context, notice domain.NewSessionsNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.created = append(n.created, notice)
	return nil
}

func (n *recordingNotifier) NotifySessionConfirmed(_ context.Context, notice domain.SessionConfirmedNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.confirmed = append(n.confirmed, notice)
	return nil
}

func (n *recordingNotifier) NotifySessionCancelled(_ context.Context, notice domain.SessionCancelledNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.cancelled = append(n.cancelled, notice)
	return nil
}

func (n *recordingNotifier) newSessions() []domain.NewSessionsNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.NewSessionsNotice(nil), n.created...)
}

func (n *recordingNotifier) confirmedNotices() []domain.SessionConfirmedNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.SessionConfirmedNotice(nil), n.confirmed...)
}

func (n *recordingNotifier) cancelledNotices() []domain.SessionCancelledNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.SessionCancelledNotice(nil), n.cancelled...)
}
