package domain

import "context"

// DefaultUpcomingLimit caps the upcoming-session query when callers pass none.
const DefaultUpcomingLimit = 10

// GetUpcomingSessions lists future active sessions ordered by date. With a
// userID, only sessions of activities the user subscribes to are considered,
// and sessions the user already participates in are dropped after the limit
// is applied, so a page may hold fewer than limit entries.
func (s *Service) GetUpcomingSessions(ctx context.Context, limit int, userID string) ([]SessionView, error) {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}

	query := UpcomingQuery{
		From:   s.now(),
		Status: SessionStatusActive,
		Limit:  limit,
	}
	if userID != "" {
		activityIDs, err := s.repo.ListSubscribedActivityIDs(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(activityIDs) == 0 {
			return []SessionView{}, nil
		}
		query.ActivityIDs = activityIDs
	}

	sessions, err := s.repo.ListUpcomingSessions(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return []SessionView{}, nil
	}

	sessionIDs := make([]string, 0, len(sessions))
	for _, session := range sessions {
		sessionIDs = append(sessionIDs, session.ID)
	}
	participants, err := s.repo.ListParticipantsForSessions(ctx, sessionIDs)
	if err != nil {
		return nil, err
	}

	activities := make(map[string]*Activity)
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		activity, ok := activities[session.ActivityID]
		if !ok {
			activity, err = s.repo.GetActivity(ctx, session.ActivityID)
			if err != nil {
				return nil, err
			}
			activities[session.ActivityID] = activity
		}

		view := buildSessionView(session, activity, participants[session.ID], userID)
		if view.IsParticipant {
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

func buildSessionView(session Session, activity *Activity, participants []Participant, userID string) SessionView {
	confirmed, waiting, interested := countByStatus(participants)
	available := session.MaxPlayers - confirmed
	if available < 0 {
		available = 0
	}

	view := SessionView{
		Session:         session,
		Activity:        activity,
		ConfirmedCount:  confirmed,
		WaitingCount:    waiting,
		InterestedCount: interested,
		AvailableSpots:  available,
	}
	if userID != "" {
		if p, ok := findParticipant(participants, userID); ok {
			view.UserStatus = &p
			view.IsParticipant = true
		}
	}
	view.CanJoin = !view.IsParticipant && !session.IsCancelled && available > 0
	return view
}

// FindSessionByID returns the session with its activity and participants.
func (s *Service) FindSessionByID(ctx context.Context, sessionID string) (*SessionDetail, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	activity, err := s.repo.GetActivity(ctx, session.ActivityID)
	if err != nil {
		return nil, err
	}
	participants, err := s.repo.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionDetail{Session: *session, Activity: activity, Participants: participants}, nil
}
