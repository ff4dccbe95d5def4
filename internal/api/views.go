package api

import (
	"errors"
	"time"

	"github.com/padrededios/stepzy/internal/domain"
)

const dayLayout = "2006-01-02"

// CreateActivityRequest is the payload for POST /v1/activities.
type CreateActivityRequest struct {
	Name          string   `json:"name"`
	Sport         string   `json:"sport"`
	MinPlayers    int      `json:"min_players"`
	MaxPlayers    int      `json:"max_players"`
	RecurringDays []string `json:"recurring_days"`
	RecurringType string   `json:"recurring_type"`
	StartTime     string   `json:"start_time"`
	EndTime       string   `json:"end_time"`
}

func (r CreateActivityRequest) toInput() (domain.CreateActivityInput, error) {
	days, err := domain.ParseWeekdays(r.RecurringDays)
	if err != nil {
		return domain.CreateActivityInput{}, err
	}
	recurrence, err := domain.ParseRecurrenceType(r.RecurringType)
	if err != nil {
		return domain.CreateActivityInput{}, err
	}
	return domain.CreateActivityInput{
		Name:          r.Name,
		Sport:         r.Sport,
		MinPlayers:    r.MinPlayers,
		MaxPlayers:    r.MaxPlayers,
		RecurringDays: days,
		RecurringType: recurrence,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
	}, nil
}

// UpdateActivityRequest is the payload for PATCH /v1/activities/{id}. Absent fields are left unchanged.
type UpdateActivityRequest struct {
	Name          *string   `json:"name"`
	Sport         *string   `json:"sport"`
	MinPlayers    *int      `json:"min_players"`
	MaxPlayers    *int      `json:"max_players"`
	RecurringDays *[]string `json:"recurring_days"`
	RecurringType *string   `json:"recurring_type"`
	StartTime     *string   `json:"start_time"`
	EndTime       *string   `json:"end_time"`
}

func (r UpdateActivityRequest) toPatch() (domain.ActivityPatch, error) {
	patch := domain.ActivityPatch{
		Name:       r.Name,
		Sport:      r.Sport,
		MinPlayers: r.MinPlayers,
		MaxPlayers: r.MaxPlayers,
		StartTime:  r.StartTime,
		EndTime:    r.EndTime,
	}
	if r.RecurringDays != nil {
		days, err := domain.ParseWeekdays(*r.RecurringDays)
		if err != nil {
			return domain.ActivityPatch{}, err
		}
		if len(days) == 0 {
			return domain.ActivityPatch{}, errors.New("recurring_days must not be empty")
		}
		patch.RecurringDays = days
	}
	if r.RecurringType != nil {
		recurrence, err := domain.ParseRecurrenceType(*r.RecurringType)
		if err != nil {
			return domain.ActivityPatch{}, err
		}
		patch.RecurringType = &recurrence
	}
	return patch, nil
}

// GenerateSessionsRequest is the optional payload for POST /v1/activities/{id}/sessions/generate.
type GenerateSessionsRequest struct {
	WeeksAhead int        `json:"weeks_ahead"`
	From       *time.Time `json:"from,omitempty"`
}

// GenerateSessionsResponse lists the sessions a generate call created.
type GenerateSessionsResponse struct {
	WeeksAhead int              `json:"weeks_ahead"`
	From       time.Time        `json:"from"`
	Created    []SessionSummary `json:"created"`
	Partial    bool             `json:"partial,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// UpdateSessionRequest is the payload for PATCH /v1/sessions/{id}.
type UpdateSessionRequest struct {
	MaxPlayers  *int   `json:"max_players"`
	IsCancelled *bool  `json:"is_cancelled"`
	Reason      string `json:"reason"`
}

// ActivityView exposes an activity template.
type ActivityView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Sport         string    `json:"sport"`
	MinPlayers    int       `json:"min_players"`
	MaxPlayers    int       `json:"max_players"`
	RecurringDays []string  `json:"recurring_days"`
	RecurringType string    `json:"recurring_type"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// SessionSummary is the bare session record.
type SessionSummary struct {
	ID          string    `json:"id"`
	ActivityID  string    `json:"activity_id"`
	Date        time.Time `json:"date"`
	Day         string    `json:"day"`
	MaxPlayers  int       `json:"max_players"`
	Status      string    `json:"status"`
	IsCancelled bool      `json:"is_cancelled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ParticipantView exposes one participant row.
type ParticipantView struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

// UpcomingSessionView is a session annotated for the caller.
type UpcomingSessionView struct {
	SessionSummary
	Activity        *ActivityView    `json:"activity,omitempty"`
	ConfirmedCount  int              `json:"confirmed_count"`
	WaitingCount    int              `json:"waiting_count"`
	InterestedCount int              `json:"interested_count"`
	AvailableSpots  int              `json:"available_spots"`
	UserStatus      *ParticipantView `json:"user_status,omitempty"`
	IsParticipant   bool             `json:"is_participant"`
	CanJoin         bool             `json:"can_join"`
}

// UpcomingSessionsResponse packages the upcoming selector's result.
type UpcomingSessionsResponse struct {
	Items []UpcomingSessionView `json:"items"`
}

// SessionDetailView is a session with its activity and full participant list.
type SessionDetailView struct {
	SessionSummary
	Activity     *ActivityView     `json:"activity,omitempty"`
	Participants []ParticipantView `json:"participants"`
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ID:            a.ID,
		Name:          a.Name,
		Slug:          a.Slug,
		Sport:         a.Sport,
		MinPlayers:    a.MinPlayers,
		MaxPlayers:    a.MaxPlayers,
		RecurringDays: domain.WeekdayNames(a.RecurringDays),
		RecurringType: string(a.RecurringType),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		CreatedBy:     a.CreatedBy,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func toActivityViewPtr(a *domain.Activity) *ActivityView {
	if a == nil {
		return nil
	}
	view := toActivityView(*a)
	return &view
}

func toSessionSummary(s domain.Session) SessionSummary {
	return SessionSummary{
		ID:          s.ID,
		ActivityID:  s.ActivityID,
		Date:        s.Date,
		Day:         s.Day.Format(dayLayout),
		MaxPlayers:  s.MaxPlayers,
		Status:      string(s.Status),
		IsCancelled: s.IsCancelled,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func toParticipantView(p domain.Participant) ParticipantView {
	return ParticipantView{
		ID:       p.ID,
		UserID:   p.UserID,
		Status:   string(p.Status),
		JoinedAt: p.JoinedAt,
	}
}

func toUpcomingSessionView(v domain.SessionView) UpcomingSessionView {
	view := UpcomingSessionView{
		SessionSummary:  toSessionSummary(v.Session),
		Activity:        toActivityViewPtr(v.Activity),
		ConfirmedCount:  v.ConfirmedCount,
		WaitingCount:    v.WaitingCount,
		InterestedCount: v.InterestedCount,
		AvailableSpots:  v.AvailableSpots,
		IsParticipant:   v.IsParticipant,
		CanJoin:         v.CanJoin,
	}
	if v.UserStatus != nil {
		p := toParticipantView(*v.UserStatus)
		view.UserStatus = &p
	}
	return view
}

func toSessionDetailView(d domain.SessionDetail) SessionDetailView {
	participants := make([]ParticipantView, 0, len(d.Participants))
	for _, p := range d.Participants {
		participants = append(participants, toParticipantView(p))
	}
	return SessionDetailView{
		SessionSummary: toSessionSummary(d.Session),
		Activity:       toActivityViewPtr(d.Activity),
		Participants:   participants,
	}
}
