// Package memory provides an in-process Repository for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/padrededios/stepzy/internal/domain"
	"github.com/padrededios/stepzy/internal/keylock"
)

type sessionKey struct {
	activityID string
	day        time.Time
}

// Repository stores scheduler state in maps guarded by a RWMutex. Per-session
// locks make WithSessionLock callbacks exclusive without blocking other reads.
type Repository struct {
	mu            sync.RWMutex
	activities    map[string]domain.Activity
	subscriptions map[string]map[string]domain.Subscription // activityID -> userID
	sessions      map[string]domain.Session
	sessionDays   map[sessionKey]string
	participants  map[string][]domain.Participant // sessionID -> ordered by insertion
	seq           int64

	sessionLocks *keylock.Map
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		activities:    make(map[string]domain.Activity),
		subscriptions: make(map[string]map[string]domain.Subscription),
		sessions:      make(map[string]domain.Session),
		sessionDays:   make(map[sessionKey]string),
		participants:  make(map[string][]domain.Participant),
		sessionLocks:  keylock.New(),
	}
}

// CreateActivity implements domain.Repository.
func (r *Repository) CreateActivity(_ context.Context, activity domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[activity.ID] = cloneActivity(activity)
	return nil
}

// GetActivity implements domain.Repository.
func (r *Repository) GetActivity(_ context.Context, activityID string) (*domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	activity, ok := r.activities[activityID]
	if !ok {
		return nil, nil
	}
	activity = cloneActivity(activity)
	return &activity, nil
}

// UpdateActivity implements domain.Repository.
func (r *Repository) UpdateActivity(_ context.Context, activity domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.activities[activity.ID]; !ok {
		return domain.ErrActivityNotFound
	}
	r.activities[activity.ID] = cloneActivity(activity)
	return nil
}

// DeleteActivity implements domain.Repository, cascading to sessions and subscriptions.
func (r *Repository) DeleteActivity(_ context.Context, activityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.activities, activityID)
	delete(r.subscriptions, activityID)
	for id, session := range r.sessions {
		if session.ActivityID != activityID {
			continue
		}
		delete(r.sessions, id)
		delete(r.sessionDays, sessionKey{activityID: activityID, day: session.Day})
		delete(r.participants, id)
	}
	return nil
}

// ListActivities implements domain.Repository, ordering by creation time then ID.
func (r *Repository) ListActivities(_ context.Context, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	r.mu.RLock()
	all := make([]domain.Activity, 0, len(r.activities))
	for _, activity := range r.activities {
		all = append(all, cloneActivity(activity))
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	results := make([]domain.Activity, 0, limit)
	for _, activity := range all {
		if cursor != nil && !afterCursor(activity, cursor) {
			continue
		}
		results = append(results, activity)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

func afterCursor(activity domain.Activity, cursor *domain.Cursor) bool {
	if activity.CreatedAt.Equal(cursor.CreatedAt) {
		return activity.ID > cursor.ID
	}
	return activity.CreatedAt.After(cursor.CreatedAt)
}

// Subscribe implements domain.Repository.
func (r *Repository) Subscribe(_ context.Context, sub domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, ok := r.subscriptions[sub.ActivityID]
	if !ok {
		users = make(map[string]domain.Subscription)
		r.subscriptions[sub.ActivityID] = users
	}
	if _, exists := users[sub.UserID]; !exists {
		users[sub.UserID] = sub
	}
	return nil
}

// Unsubscribe implements domain.Repository.
func (r *Repository) Unsubscribe(_ context.Context, activityID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscriptions[activityID], userID)
	return nil
}

// ListSubscribedActivityIDs implements domain.Repository.
func (r *Repository) ListSubscribedActivityIDs(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0)
	for activityID, users := range r.subscriptions {
		if _, ok := users[userID]; ok {
			out = append(out, activityID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListSubscribers implements domain.Repository.
func (r *Repository) ListSubscribers(_ context.Context, activityID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]domain.Subscription, 0, len(r.subscriptions[activityID]))
	for _, sub := range r.subscriptions[activityID] {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].UserID < subs[j].UserID
		}
		return subs[i].CreatedAt.Before(subs[j].CreatedAt)
	})
	out := make([]string, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.UserID)
	}
	return out, nil
}

// FindSessionOnDay implements domain.Repository.
func (r *Repository) FindSessionOnDay(_ context.Context, activityID string, dayStart, dayEnd time.Time) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.ActivityID != activityID {
			continue
		}
		if !session.Date.Before(dayStart) && session.Date.Before(dayEnd) {
			found := session
			return &found, nil
		}
	}
	return nil, nil
}

// CreateSession implements domain.Repository.
func (r *Repository) CreateSession(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sessionKey{activityID: session.ActivityID, day: session.Day}
	if _, taken := r.sessionDays[key]; taken {
		return domain.ErrSessionExists
	}
	if _, ok := r.activities[session.ActivityID]; !ok {
		return domain.ErrActivityNotFound
	}
	r.sessions[session.ID] = session
	r.sessionDays[key] = session.ID
	return nil
}

// GetSession implements domain.Repository.
func (r *Repository) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// ListUpcomingSessions implements domain.Repository.
func (r *Repository) ListUpcomingSessions(_ context.Context, query domain.UpcomingQuery) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allowed map[string]struct{}
	if query.ActivityIDs != nil {
		allowed = make(map[string]struct{}, len(query.ActivityIDs))
		for _, id := range query.ActivityIDs {
			allowed[id] = struct{}{}
		}
	}

	out := make([]domain.Session, 0)
	for _, session := range r.sessions {
		if session.Date.Before(query.From) {
			continue
		}
		if query.Status != "" && session.Status != query.Status {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[session.ActivityID]; !ok {
				continue
			}
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// ListUserSessionIDs implements domain.Repository.
func (r *Repository) ListUserSessionIDs(_ context.Context, activityID, userID string, from time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0)
	for id, session := range r.sessions {
		if session.ActivityID != activityID || session.Date.Before(from) {
			continue
		}
		for _, p := range r.participants[id] {
			if p.UserID == userID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListParticipants implements domain.Repository.
func (r *Repository) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedParticipants(r.participants[sessionID]), nil
}

// ListParticipantsForSessions implements domain.Repository.
func (r *Repository) ListParticipantsForSessions(_ context.Context, sessionIDs []string) (map[string][]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]domain.Participant, len(sessionIDs))
	for _, id := range sessionIDs {
		out[id] = sortedParticipants(r.participants[id])
	}
	return out, nil
}

// WithSessionLock implements domain.Repository. The callback works on a staged
// copy of the participant list that replaces the stored one on success.
func (r *Repository) WithSessionLock(ctx context.Context, sessionID string, fn func(context.Context, domain.SessionTx) error) error {
	unlock := r.sessionLocks.Lock(sessionID)
	defer unlock()

	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	staged := append([]domain.Participant(nil), r.participants[sessionID]...)
	r.mu.RUnlock()
	if !ok {
		return domain.ErrSessionNotFound
	}

	tx := &sessionTx{repo: r, session: session, participants: staged}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return domain.ErrSessionNotFound
	}
	r.sessions[sessionID] = tx.session
	r.participants[sessionID] = tx.participants
	return nil
}

func (r *Repository) nextSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq
}

type sessionTx struct {
	repo         *Repository
	session      domain.Session
	participants []domain.Participant
}

func (t *sessionTx) Activity(ctx context.Context) (*domain.Activity, error) {
	return t.repo.GetActivity(ctx, t.session.ActivityID)
}

func (t *sessionTx) Session() domain.Session {
	return t.session
}

func (t *sessionTx) UpdateSession(_ context.Context, session domain.Session) error {
	session.ID = t.session.ID
	session.ActivityID = t.session.ActivityID
	session.Day = t.session.Day
	t.session = session
	return nil
}

func (t *sessionTx) ListParticipants(_ context.Context) ([]domain.Participant, error) {
	return sortedParticipants(t.participants), nil
}

func (t *sessionTx) InsertParticipant(_ context.Context, participant domain.Participant) error {
	for _, p := range t.participants {
		if p.UserID == participant.UserID {
			return domain.ErrAlreadyParticipating
		}
	}
	participant.SessionID = t.session.ID
	participant.Seq = t.repo.nextSeq()
	t.participants = append(t.participants, participant)
	return nil
}

func (t *sessionTx) DeleteParticipant(_ context.Context, userID string) error {
	for i, p := range t.participants {
		if p.UserID == userID {
			t.participants = append(t.participants[:i:i], t.participants[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotParticipating
}

func (t *sessionTx) UpdateParticipantStatus(_ context.Context, userID string, status domain.ParticipantStatus) error {
	for i := range t.participants {
		if t.participants[i].UserID == userID {
			t.participants[i].Status = status
			return nil
		}
	}
	return domain.ErrNotParticipating
}

func sortedParticipants(in []domain.Participant) []domain.Participant {
	out := append([]domain.Participant(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func cloneActivity(activity domain.Activity) domain.Activity {
	activity.RecurringDays = append([]time.Weekday(nil), activity.RecurringDays...)
	return activity
}
