// Package sqlite implements the scheduler repository on SQLite through gorm,
// for single-process development runs.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/padrededios/stepzy/internal/domain"
	"github.com/padrededios/stepzy/internal/keylock"
)

// Open connects to the database file at path and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(gormsqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&activityRecord{}, &subscriptionRecord{}, &sessionRecord{}, &participantRecord{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

// Repository stores scheduler state in SQLite. Session-locked work is
// serialised in process and its writes are committed in one transaction.
type Repository struct {
	db *gorm.DB

	sessionLocks *keylock.Map
}

var _ domain.Repository = (*Repository)(nil)

// NewRepository constructs a Repository over an opened database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, sessionLocks: keylock.New()}
}

// CreateActivity implements domain.Repository.
func (r *Repository) CreateActivity(ctx context.Context, activity domain.Activity) error {
	record := toActivityRecord(activity)
	return r.db.WithContext(ctx).Create(&record).Error
}

// GetActivity implements domain.Repository.
func (r *Repository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	var record activityRecord
	if err := r.db.WithContext(ctx).Where("id = ?", activityID).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	activity, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

// UpdateActivity implements domain.Repository.
func (r *Repository) UpdateActivity(ctx context.Context, activity domain.Activity) error {
	record := toActivityRecord(activity)
	result := r.db.WithContext(ctx).Model(&activityRecord{}).Where("id = ?", activity.ID).Select("*").Omit("id", "created_at").Updates(&record)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// DeleteActivity implements domain.Repository, cascading to sessions, participants and subscriptions.
func (r *Repository) DeleteActivity(ctx context.Context, activityID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessionIDs := tx.Model(&sessionRecord{}).Select("id").Where("activity_id = ?", activityID)
		if err := tx.Where("session_id IN (?)", sessionIDs).Delete(&participantRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("activity_id = ?", activityID).Delete(&sessionRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("activity_id = ?", activityID).Delete(&subscriptionRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", activityID).Delete(&activityRecord{}).Error
	})
}

// ListActivities implements domain.Repository, ordering by creation time then ID.
func (r *Repository) ListActivities(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	query := r.db.WithContext(ctx).Order("created_at, id").Limit(limit)
	if cursor != nil {
		at := cursor.CreatedAt.UnixNano()
		query = query.Where("created_at > ? OR (created_at = ? AND id > ?)", at, at, cursor.ID)
	}

	var records []activityRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, nil, err
	}
	results := make([]domain.Activity, 0, len(records))
	for _, record := range records {
		activity, err := record.toDomain()
		if err != nil {
			return nil, nil, err
		}
		results = append(results, activity)
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// Subscribe implements domain.Repository.
func (r *Repository) Subscribe(ctx context.Context, sub domain.Subscription) error {
	record := subscriptionRecord{ActivityID: sub.ActivityID, UserID: sub.UserID, CreatedNanos: sub.CreatedAt.UnixNano()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}

// Unsubscribe implements domain.Repository.
func (r *Repository) Unsubscribe(ctx context.Context, activityID, userID string) error {
	return r.db.WithContext(ctx).Where("activity_id = ? AND user_id = ?", activityID, userID).Delete(&subscriptionRecord{}).Error
}

// ListSubscribedActivityIDs implements domain.Repository.
func (r *Repository) ListSubscribedActivityIDs(ctx context.Context, userID string) ([]string, error) {
	ids := make([]string, 0)
	err := r.db.WithContext(ctx).Model(&subscriptionRecord{}).Where("user_id = ?", userID).Order("activity_id").Pluck("activity_id", &ids).Error
	return ids, err
}

// ListSubscribers implements domain.Repository.
func (r *Repository) ListSubscribers(ctx context.Context, activityID string) ([]string, error) {
	ids := make([]string, 0)
	err := r.db.WithContext(ctx).Model(&subscriptionRecord{}).Where("activity_id = ?", activityID).Order("created_at, user_id").Pluck("user_id", &ids).Error
	return ids, err
}

// FindSessionOnDay implements domain.Repository.
func (r *Repository) FindSessionOnDay(ctx context.Context, activityID string, dayStart, dayEnd time.Time) (*domain.Session, error) {
	var record sessionRecord
	err := r.db.WithContext(ctx).
		Where("activity_id = ? AND session_date >= ? AND session_date < ?", activityID, dayStart.UnixNano(), dayEnd.UnixNano()).
		Order("session_date").
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	session := record.toDomain()
	return &session, nil
}

// CreateSession implements domain.Repository.
func (r *Repository) CreateSession(ctx context.Context, session domain.Session) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var activities int64
		if err := tx.Model(&activityRecord{}).Where("id = ?", session.ActivityID).Count(&activities).Error; err != nil {
			return err
		}
		if activities == 0 {
			return domain.ErrActivityNotFound
		}
		record := toSessionRecord(session)
		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrSessionExists
			}
			return err
		}
		return nil
	})
}

// GetSession implements domain.Repository.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var record sessionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", sessionID).Take(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	session := record.toDomain()
	return &session, nil
}

// ListUpcomingSessions implements domain.Repository.
func (r *Repository) ListUpcomingSessions(ctx context.Context, q domain.UpcomingQuery) ([]domain.Session, error) {
	if q.ActivityIDs != nil && len(q.ActivityIDs) == 0 {
		return []domain.Session{}, nil
	}
	query := r.db.WithContext(ctx).Where("session_date >= ?", q.From.UnixNano())
	if q.Status != "" {
		query = query.Where("status = ?", string(q.Status))
	}
	if q.ActivityIDs != nil {
		query = query.Where("activity_id IN ?", q.ActivityIDs)
	}

	var records []sessionRecord
	if err := query.Order("session_date, id").Limit(q.Limit).Find(&records).Error; err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(records))
	for _, record := range records {
		sessions = append(sessions, record.toDomain())
	}
	return sessions, nil
}

// ListUserSessionIDs implements domain.Repository.
func (r *Repository) ListUserSessionIDs(ctx context.Context, activityID, userID string, from time.Time) ([]string, error) {
	ids := make([]string, 0)
	err := r.db.WithContext(ctx).
		Model(&sessionRecord{}).
		Joins("JOIN session_participants p ON p.session_id = activity_sessions.id").
		Where("activity_sessions.activity_id = ? AND p.user_id = ? AND activity_sessions.session_date >= ?", activityID, userID, from.UnixNano()).
		Order("activity_sessions.id").
		Pluck("activity_sessions.id", &ids).Error
	return ids, err
}

// ListParticipants implements domain.Repository.
func (r *Repository) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return r.listParticipants(r.db.WithContext(ctx), sessionID)
}

func (r *Repository) listParticipants(db *gorm.DB, sessionID string) ([]domain.Participant, error) {
	var records []participantRecord
	if err := db.Where("session_id = ?", sessionID).Order("joined_at, seq").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// ListParticipantsForSessions implements domain.Repository.
func (r *Repository) ListParticipantsForSessions(ctx context.Context, sessionIDs []string) (map[string][]domain.Participant, error) {
	out := make(map[string][]domain.Participant, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	var records []participantRecord
	if err := r.db.WithContext(ctx).Where("session_id IN ?", sessionIDs).Order("session_id, joined_at, seq").Find(&records).Error; err != nil {
		return nil, err
	}
	for _, record := range records {
		out[record.SessionID] = append(out[record.SessionID], record.toDomain())
	}
	return out, nil
}

// WithSessionLock implements domain.Repository. The callback works on a
// staged copy of the session and its participants; staged writes are applied
// in a single transaction when the callback succeeds.
func (r *Repository) WithSessionLock(ctx context.Context, sessionID string, fn func(context.Context, domain.SessionTx) error) error {
	unlock := r.sessionLocks.Lock(sessionID)
	defer unlock()

	session, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return domain.ErrSessionNotFound
	}
	participants, err := r.ListParticipants(ctx, sessionID)
	if err != nil {
		return err
	}

	tx := &sessionTx{repo: r, session: *session, participants: participants}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return r.commit(ctx, tx)
}

func (r *Repository) commit(ctx context.Context, stx *sessionTx) error {
	if !stx.dirty {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := toSessionRecord(stx.session)
		if err := tx.Model(&sessionRecord{}).Where("id = ?", record.ID).
			Select("max_players", "status", "is_cancelled", "updated_at").
			Updates(&record).Error; err != nil {
			return err
		}

		var maxSeq int64
		if err := tx.Model(&participantRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", stx.session.ID).Delete(&participantRecord{}).Error; err != nil {
			return err
		}
		if len(stx.participants) == 0 {
			return nil
		}

		records := make([]participantRecord, 0, len(stx.participants))
		for _, p := range stx.participants {
			if p.Seq == 0 {
				maxSeq++
				p.Seq = maxSeq
			}
			records = append(records, toParticipantRecord(p))
		}
		return tx.Create(&records).Error
	})
}

type sessionTx struct {
	repo         *Repository
	session      domain.Session
	participants []domain.Participant
	dirty        bool
}

func (t *sessionTx) Activity(ctx context.Context) (*domain.Activity, error) {
	return t.repo.GetActivity(ctx, t.session.ActivityID)
}

func (t *sessionTx) Session() domain.Session {
	return t.session
}

func (t *sessionTx) UpdateSession(_ context.Context, session domain.Session) error {
	session.ID, session.ActivityID, session.Day = t.session.ID, t.session.ActivityID, t.session.Day
	t.session = session
	t.dirty = true
	return nil
}

func (t *sessionTx) ListParticipants(_ context.Context) ([]domain.Participant, error) {
	out := append([]domain.Participant(nil), t.participants...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return seqOrMax(out[i]) < seqOrMax(out[j])
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func (t *sessionTx) InsertParticipant(_ context.Context, participant domain.Participant) error {
	for _, p := range t.participants {
		if p.UserID == participant.UserID {
			return domain.ErrAlreadyParticipating
		}
	}
	participant.SessionID = t.session.ID
	participant.Seq = 0
	t.participants = append(t.participants, participant)
	t.dirty = true
	return nil
}

func (t *sessionTx) DeleteParticipant(_ context.Context, userID string) error {
	for i, p := range t.participants {
		if p.UserID == userID {
			t.participants = append(t.participants[:i:i], t.participants[i+1:]...)
			t.dirty = true
			return nil
		}
	}
	return domain.ErrNotParticipating
}

func (t *sessionTx) UpdateParticipantStatus(_ context.Context, userID string, status domain.ParticipantStatus) error {
	for i := range t.participants {
		if t.participants[i].UserID == userID {
			t.participants[i].Status = status
			t.dirty = true
			return nil
		}
	}
	return domain.ErrNotParticipating
}

// seqOrMax orders staged, not yet numbered participants after stored ones.
func seqOrMax(p domain.Participant) int64 {
	if p.Seq == 0 {
		return 1<<63 - 1
	}
	return p.Seq
}
