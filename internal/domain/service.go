// Package domain defines the business logic for the session scheduler.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/padrededios/stepzy/internal/keylock"
	"github.com/padrededios/stepzy/internal/observability"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithNotifier sets the notifier that receives scheduling side effects.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithLogger overrides the logger used to report swallowed errors.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithLocation sets the calendar sessions are materialized in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		s.loc = loc
	}
}

// Service orchestrates activity, session and participant workflows.
type Service struct {
	repo          Repository
	notifier      Notifier
	logger        *log.Logger
	now           func() time.Time
	loc           *time.Location
	activityLocks *keylock.Map
	sessionLocks  *keylock.Map
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		logger:        log.New(log.Writer(), "[scheduler] ", log.LstdFlags|log.Lshortfile),
		now:           time.Now,
		loc:           time.Local,
		activityLocks: keylock.New(),
		sessionLocks:  keylock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	return s
}

// Location returns the calendar the service materializes sessions in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Now returns the service clock's current instant.
func (s *Service) Now() time.Time {
	return s.now()
}

// CreateActivityInput captures the payload from the API layer.
type CreateActivityInput struct {
	Name          string
	Sport         string
	MinPlayers    int
	MaxPlayers    int
	RecurringDays []time.Weekday
	RecurringType RecurrenceType
	StartTime     string
	EndTime       string
}

// ActivityPatch carries the owner-editable activity fields. Nil fields are left unchanged.
type ActivityPatch struct {
	Name          *string
	Sport         *string
	MinPlayers    *int
	MaxPlayers    *int
	RecurringDays []time.Weekday
	RecurringType *RecurrenceType
	StartTime     *string
	EndTime       *string
}

// CreateActivity stores a new activity, subscribes its creator and materializes
// the default horizon of sessions.
func (s *Service) CreateActivity(ctx context.Context, actor Actor, input CreateActivityInput) (*Activity, error) {
	now := s.now().UTC()
	activity := Activity{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(input.Name),
		Slug:          slug.Make(input.Name),
		Sport:         strings.TrimSpace(input.Sport),
		MinPlayers:    input.MinPlayers,
		MaxPlayers:    input.MaxPlayers,
		RecurringDays: input.RecurringDays,
		RecurringType: input.RecurringType,
		StartTime:     input.StartTime,
		EndTime:       input.EndTime,
		CreatedBy:     actor.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if strings.TrimSpace(actor.UserID) == "" {
		return nil, ValidationError{Field: "created_by", Reason: "is required"}
	}
	if err := validateActivity(activity); err != nil {
		return nil, err
	}

	if err := s.repo.CreateActivity(ctx, activity); err != nil {
		return nil, err
	}
	if err := s.repo.Subscribe(ctx, Subscription{UserID: actor.UserID, ActivityID: activity.ID, CreatedAt: now}); err != nil {
		return nil, err
	}

	// The periodic job picks up whatever this first pass misses.
	if _, err := s.GenerateSessions(ctx, activity.ID, s.now(), DefaultWeeksAhead); err != nil {
		s.logger.Printf("initial materialization failed (activity=%s): %v", activity.ID, err)
	}
	return &activity, nil
}

// GetActivity fetches by ID.
func (s *Service) GetActivity(ctx context.Context, activityID string) (*Activity, error) {
	activity, err := s.repo.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// ListActivities fetches activities with cursor pagination.
func (s *Service) ListActivities(ctx context.Context, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.repo.ListActivities(ctx, cursor, clampLimit(limit))
}

// UpdateActivity applies an owner edit. Existing sessions keep their capacity snapshot.
func (s *Service) UpdateActivity(ctx context.Context, actor Actor, activityID string, patch ActivityPatch) (*Activity, error) {
	unlock := s.activityLocks.Lock(activityID)
	defer unlock()

	activity, err := s.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if !activity.OwnedBy(actor) {
		return nil, ErrForbidden
	}

	if patch.Name != nil {
		activity.Name = strings.TrimSpace(*patch.Name)
		activity.Slug = slug.Make(*patch.Name)
	}
	if patch.Sport != nil {
		activity.Sport = strings.TrimSpace(*patch.Sport)
	}
	if patch.MinPlayers != nil {
		activity.MinPlayers = *patch.MinPlayers
	}
	if patch.MaxPlayers != nil {
		activity.MaxPlayers = *patch.MaxPlayers
	}
	if patch.RecurringDays != nil {
		activity.RecurringDays = patch.RecurringDays
	}
	if patch.RecurringType != nil {
		activity.RecurringType = *patch.RecurringType
	}
	if patch.StartTime != nil {
		activity.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		activity.EndTime = *patch.EndTime
	}
	if err := validateActivity(*activity); err != nil {
		return nil, err
	}
	activity.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateActivity(ctx, *activity); err != nil {
		return nil, err
	}
	return activity, nil
}

// DeleteActivity removes an activity together with its sessions, participants and subscriptions.
func (s *Service) DeleteActivity(ctx context.Context, actor Actor, activityID string) error {
	unlock := s.activityLocks.Lock(activityID)
	defer unlock()

	activity, err := s.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if !activity.OwnedBy(actor) {
		return ErrForbidden
	}
	return s.repo.DeleteActivity(ctx, activityID)
}

// Subscribe opts the user into an activity. Subscribing twice is a no-op.
func (s *Service) Subscribe(ctx context.Context, activityID, userID string) error {
	if _, err := s.GetActivity(ctx, activityID); err != nil {
		return err
	}
	return s.repo.Subscribe(ctx, Subscription{UserID: userID, ActivityID: activityID, CreatedAt: s.now().UTC()})
}

// Unsubscribe removes the subscription and the user's participation in the
// activity's future sessions. Past sessions are left untouched. The
// subscription goes first, so a failure part way leaves the user unsubscribed
// with some seats still held; calling Unsubscribe again releases the rest.
func (s *Service) Unsubscribe(ctx context.Context, activityID, userID string) error {
	if _, err := s.GetActivity(ctx, activityID); err != nil {
		return err
	}
	if err := s.repo.Unsubscribe(ctx, activityID, userID); err != nil {
		return err
	}

	sessionIDs, err := s.repo.ListUserSessionIDs(ctx, activityID, userID, s.now())
	if err != nil {
		return err
	}
	for _, sessionID := range sessionIDs {
		err := s.LeaveSession(ctx, sessionID, userID)
		if err != nil && !errors.Is(err, ErrNotParticipating) && !errors.Is(err, ErrSessionNotFound) {
			return fmt.Errorf("leave session %s: %w", sessionID, err)
		}
	}
	return nil
}

// GenerateSessions materializes the activity's sessions for the window starting
// at from. Days that already have a session are skipped, so calling it again
// with the same window creates nothing. Only newly created sessions are returned.
func (s *Service) GenerateSessions(ctx context.Context, activityID string, from time.Time, weeksAhead int) ([]Session, error) {
	unlock := s.activityLocks.Lock(activityID)
	defer unlock()

	activity, err := s.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}

	created, genErr := s.materialize(ctx, *activity, ExpandDates(activity.Recurrence(), from, weeksAhead, s.loc))
	observability.RecordSessionsMaterialized(len(created))

	if len(created) > 0 {
		s.announceSessions(ctx, activity.ID, created)
	}
	return created, genErr
}

func (s *Service) materialize(ctx context.Context, activity Activity, dates []time.Time) ([]Session, error) {
	created := make([]Session, 0, len(dates))
	for _, date := range dates {
		dayStart, dayEnd := DayBounds(date, s.loc)
		existing, err := s.repo.FindSessionOnDay(ctx, activity.ID, dayStart, dayEnd)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}

		now := s.now().UTC()
		session := Session{
			ID:         uuid.NewString(),
			ActivityID: activity.ID,
			Date:       date,
			Day:        CivilDay(date, s.loc),
			MaxPlayers: activity.MaxPlayers,
			Status:     SessionStatusActive,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.repo.CreateSession(ctx, session); err != nil {
			if errors.Is(err, ErrSessionExists) {
				continue
			}
			return created, err
		}
		created = append(created, session)
	}
	return created, nil
}

func (s *Service) announceSessions(ctx context.Context, activityID string, created []Session) {
	ids := make([]string, 0, len(created))
	for _, session := range created {
		ids = append(ids, session.ID)
	}
	s.notify(ctx, "sessions_created", func(ctx context.Context) error {
		recipients, err := s.repo.ListSubscribers(ctx, activityID)
		if err != nil {
			return fmt.Errorf("list subscribers: %w", err)
		}
		return s.notifier.NotifyNewSessions(ctx, NewSessionsNotice{
			ActivityID: activityID,
			SessionIDs: ids,
			Recipients: recipients,
		})
	})
}

// GenerateAllSessions runs GenerateSessions for every activity and returns the
// number of sessions created. Per-activity failures are joined, not fatal.
func (s *Service) GenerateAllSessions(ctx context.Context, from time.Time, weeksAhead int) (int, error) {
	var (
		total  int
		errs   error
		cursor *Cursor
	)
	for {
		activities, next, err := s.repo.ListActivities(ctx, cursor, maxListLimit)
		if err != nil {
			return total, errors.Join(errs, err)
		}
		for _, activity := range activities {
			if err := ctx.Err(); err != nil {
				return total, errors.Join(errs, err)
			}
			created, err := s.GenerateSessions(ctx, activity.ID, from, weeksAhead)
			total += len(created)
			if err != nil {
				errs = errors.Join(errs, fmt.Errorf("activity %s: %w", activity.ID, err))
			}
		}
		if next == nil {
			return total, errs
		}
		cursor = next
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
