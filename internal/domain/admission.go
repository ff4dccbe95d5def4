package domain

import (
	"context"

	"github.com/google/uuid"

	"github.com/padrededios/stepzy/internal/observability"
)

// JoinSession admits the user as confirmed while the session has room and as
// waiting otherwise. The returned participant carries the resolved status.
//
// A confirmed join that brings the confirmed count exactly to the activity's
// minimum players announces the session as confirmed. Later joins past the
// threshold, and promotions from the waitlist, do not announce again.
func (s *Service) JoinSession(ctx context.Context, sessionID, userID string) (*Participant, error) {
	return s.admit(ctx, sessionID, userID, false)
}

// MarkInterested records a soft interest that does not compete for capacity.
func (s *Service) MarkInterested(ctx context.Context, sessionID, userID string) (*Participant, error) {
	return s.admit(ctx, sessionID, userID, true)
}

func (s *Service) admit(ctx context.Context, sessionID, userID string, interestOnly bool) (*Participant, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Reason: "is required"}
	}

	unlock := s.sessionLocks.Lock(sessionID)
	defer unlock()

	var (
		admitted Participant
		notice   *SessionConfirmedNotice
	)
	err := s.repo.WithSessionLock(ctx, sessionID, func(ctx context.Context, tx SessionTx) error {
		session := tx.Session()
		if session.IsCancelled {
			return ErrSessionCancelled
		}

		participants, err := tx.ListParticipants(ctx)
		if err != nil {
			return err
		}
		if _, ok := findParticipant(participants, userID); ok {
			return ErrAlreadyParticipating
		}

		activity, err := tx.Activity(ctx)
		if err != nil {
			return err
		}
		if activity == nil {
			return ErrActivityNotFound
		}

		confirmed, _, _ := countByStatus(participants)
		status := ParticipantInterested
		if !interestOnly {
			status = ParticipantWaiting
			if confirmed < session.MaxPlayers {
				status = ParticipantConfirmed
			}
		}

		admitted = Participant{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			UserID:    userID,
			Status:    status,
			JoinedAt:  s.now().UTC(),
		}
		if err := tx.InsertParticipant(ctx, admitted); err != nil {
			return err
		}
		if status != ParticipantConfirmed {
			return nil
		}

		after, err := tx.ListParticipants(ctx)
		if err != nil {
			return err
		}
		confirmedAfter, _, _ := countByStatus(after)
		if confirmedAfter > session.MaxPlayers {
			return ErrCapacityConflict
		}
		if confirmedAfter == activity.MinPlayers {
			notice = &SessionConfirmedNotice{
				SessionID:      session.ID,
				ActivityID:     session.ActivityID,
				ConfirmedCount: confirmedAfter,
				Recipients:     userIDsWithStatus(after, ParticipantConfirmed, ParticipantInterested),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordAdmission(string(admitted.Status))
	if notice != nil {
		s.notify(ctx, "session_confirmed", func(ctx context.Context) error {
			return s.notifier.NotifySessionConfirmed(ctx, *notice)
		})
	}
	return &admitted, nil
}

// LeaveSession removes the user's participation. When a confirmed participant
// leaves, the longest-waiting participant is promoted in the same locked unit.
func (s *Service) LeaveSession(ctx context.Context, sessionID, userID string) error {
	unlock := s.sessionLocks.Lock(sessionID)
	defer unlock()

	var (
		left     Participant
		promoted *Participant
	)
	err := s.repo.WithSessionLock(ctx, sessionID, func(ctx context.Context, tx SessionTx) error {
		participants, err := tx.ListParticipants(ctx)
		if err != nil {
			return err
		}
		p, ok := findParticipant(participants, userID)
		if !ok {
			return ErrNotParticipating
		}
		left = p

		if err := tx.DeleteParticipant(ctx, userID); err != nil {
			return err
		}
		if p.Status != ParticipantConfirmed {
			return nil
		}

		promoted, err = promoteNext(ctx, tx, participants)
		return err
	})
	if err != nil {
		return err
	}

	observability.RecordDeparture(string(left.Status))
	if promoted != nil {
		observability.RecordPromotion()
		s.logger.Printf("promoted from waitlist (session=%s, user=%s)", sessionID, promoted.UserID)
	}
	return nil
}

// promoteNext confirms the waiting participant with the earliest join time,
// breaking ties by insertion order. It returns nil when nobody is waiting.
func promoteNext(ctx context.Context, tx SessionTx, participants []Participant) (*Participant, error) {
	var next *Participant
	for i := range participants {
		p := participants[i]
		if p.Status != ParticipantWaiting {
			continue
		}
		if next == nil || p.JoinedAt.Before(next.JoinedAt) || (p.JoinedAt.Equal(next.JoinedAt) && p.Seq < next.Seq) {
			next = &p
		}
	}
	if next == nil {
		return nil, nil
	}
	if err := tx.UpdateParticipantStatus(ctx, next.UserID, ParticipantConfirmed); err != nil {
		return nil, err
	}
	next.Status = ParticipantConfirmed
	return next, nil
}

// UpdateSession applies an owner edit to a session. Cancelling a session that
// was not cancelled notifies every current participant.
func (s *Service) UpdateSession(ctx context.Context, actor Actor, sessionID string, patch SessionPatch, reason string) (*Session, error) {
	unlock := s.sessionLocks.Lock(sessionID)
	defer unlock()

	var (
		updated Session
		notice  *SessionCancelledNotice
	)
	err := s.repo.WithSessionLock(ctx, sessionID, func(ctx context.Context, tx SessionTx) error {
		session := tx.Session()
		activity, err := tx.Activity(ctx)
		if err != nil {
			return err
		}
		if activity == nil {
			return ErrActivityNotFound
		}
		if !activity.OwnedBy(actor) {
			return ErrForbidden
		}

		participants, err := tx.ListParticipants(ctx)
		if err != nil {
			return err
		}

		if patch.MaxPlayers != nil {
			capacity := *patch.MaxPlayers
			if capacity < MinCapacity || capacity > MaxCapacity {
				return ValidationError{Field: "max_players", Reason: "out of range"}
			}
			if confirmed, _, _ := countByStatus(participants); confirmed > capacity {
				return ErrCapacityConflict
			}
			session.MaxPlayers = capacity
		}

		wasCancelled := session.IsCancelled
		if patch.IsCancelled != nil {
			session.IsCancelled = *patch.IsCancelled
		}
		session.UpdatedAt = s.now().UTC()

		if err := tx.UpdateSession(ctx, session); err != nil {
			return err
		}
		updated = session

		if !wasCancelled && session.IsCancelled {
			notice = &SessionCancelledNotice{
				SessionID:  session.ID,
				ActivityID: session.ActivityID,
				Reason:     reason,
				Recipients: userIDsWithStatus(participants, ParticipantConfirmed, ParticipantWaiting, ParticipantInterested),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if notice != nil {
		s.notify(ctx, "session_cancelled", func(ctx context.Context) error {
			return s.notifier.NotifySessionCancelled(ctx, *notice)
		})
	}
	return &updated, nil
}

func userIDsWithStatus(participants []Participant, statuses ...ParticipantStatus) []string {
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		for _, status := range statuses {
			if p.Status == status {
				out = append(out, p.UserID)
				break
			}
		}
	}
	return out
}
