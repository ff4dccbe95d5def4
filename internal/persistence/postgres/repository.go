// Package postgres implements the scheduler repository on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/padrededios/stepzy/internal/domain"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	sessionDayConstraint = "activity_sessions_activity_day_key"
)

// Repository provides Postgres-backed persistence for activities, sessions and participants.
type Repository struct {
	pool *pgxpool.Pool
}

var _ domain.Repository = (*Repository)(nil)

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const activityColumns = `activity_id, name, slug, sport, min_players, max_players, recurring_days, recurring_type, start_time, end_time, created_by, created_at, updated_at`

const sessionColumns = `session_id, activity_id, session_date, session_day, max_players, status, is_cancelled, created_at, updated_at`

const participantColumns = `participant_id, session_id, user_id, status, joined_at, seq`

// CreateActivity implements domain.Repository.
func (r *Repository) CreateActivity(ctx context.Context, a domain.Activity) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO activities (`+activityColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.Name, a.Slug, a.Sport, a.MinPlayers, a.MaxPlayers, domain.WeekdayNames(a.RecurringDays),
		string(a.RecurringType), a.StartTime, a.EndTime, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetActivity implements domain.Repository.
func (r *Repository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	return getActivity(ctx, r.pool, activityID)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getActivity(ctx context.Context, q rowQuerier, activityID string) (*domain.Activity, error) {
	row := q.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE activity_id = $1`, activityID)
	activity, err := scanActivity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &activity, nil
}

// UpdateActivity implements domain.Repository.
func (r *Repository) UpdateActivity(ctx context.Context, a domain.Activity) error {
	tag, err := r.pool.Exec(ctx, `UPDATE activities
        SET name=$2, slug=$3, sport=$4, min_players=$5, max_players=$6, recurring_days=$7, recurring_type=$8, start_time=$9, end_time=$10, updated_at=$11
        WHERE activity_id=$1`,
		a.ID, a.Name, a.Slug, a.Sport, a.MinPlayers, a.MaxPlayers, domain.WeekdayNames(a.RecurringDays),
		string(a.RecurringType), a.StartTime, a.EndTime, a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrActivityNotFound
	}
	return nil
}

// DeleteActivity implements domain.Repository. Sessions, participants and
// subscriptions cascade through foreign keys.
func (r *Repository) DeleteActivity(ctx context.Context, activityID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE activity_id = $1`, activityID)
	return err
}

// ListActivities implements domain.Repository, ordering by creation time then ID.
func (r *Repository) ListActivities(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []any{limit}
	query := `SELECT ` + activityColumns + ` FROM activities`
	if cursor != nil {
		query += ` WHERE (created_at, activity_id) > ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at, activity_id LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Activity, error) {
		return scanActivity(row)
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// Subscribe implements domain.Repository.
func (r *Repository) Subscribe(ctx context.Context, sub domain.Subscription) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO activity_subscriptions (activity_id, user_id, created_at)
        VALUES ($1,$2,$3) ON CONFLICT (activity_id, user_id) DO NOTHING`,
		sub.ActivityID, sub.UserID, sub.CreatedAt,
	)
	if isPgError(err, foreignKeyViolation) {
		return domain.ErrActivityNotFound
	}
	return err
}

// Unsubscribe implements domain.Repository.
func (r *Repository) Unsubscribe(ctx context.Context, activityID, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activity_subscriptions WHERE activity_id = $1 AND user_id = $2`, activityID, userID)
	return err
}

// ListSubscribedActivityIDs implements domain.Repository.
func (r *Repository) ListSubscribedActivityIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT activity_id FROM activity_subscriptions WHERE user_id = $1 ORDER BY activity_id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListSubscribers implements domain.Repository.
func (r *Repository) ListSubscribers(ctx context.Context, activityID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM activity_subscriptions WHERE activity_id = $1 ORDER BY created_at, user_id`, activityID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// FindSessionOnDay implements domain.Repository.
func (r *Repository) FindSessionOnDay(ctx context.Context, activityID string, dayStart, dayEnd time.Time) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM activity_sessions
        WHERE activity_id = $1 AND session_date >= $2 AND session_date < $3
        ORDER BY session_date LIMIT 1`, activityID, dayStart, dayEnd)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// CreateSession implements domain.Repository.
func (r *Repository) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO activity_sessions (`+sessionColumns+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.ActivityID, s.Date, s.Day, s.MaxPlayers, string(s.Status), s.IsCancelled, s.CreatedAt, s.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation && pgErr.ConstraintName == sessionDayConstraint:
			return domain.ErrSessionExists
		case pgErr.Code == foreignKeyViolation:
			return domain.ErrActivityNotFound
		}
	}
	return err
}

// GetSession implements domain.Repository.
func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM activity_sessions WHERE session_id = $1`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// ListUpcomingSessions implements domain.Repository.
func (r *Repository) ListUpcomingSessions(ctx context.Context, q domain.UpcomingQuery) ([]domain.Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM activity_sessions
        WHERE session_date >= $1
          AND ($2 = '' OR status = $2)
          AND ($3::text[] IS NULL OR activity_id = ANY($3))
        ORDER BY session_date, session_id
        LIMIT $4`, q.From, string(q.Status), q.ActivityIDs, q.Limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Session, error) {
		return scanSession(row)
	})
}

// ListUserSessionIDs implements domain.Repository.
func (r *Repository) ListUserSessionIDs(ctx context.Context, activityID, userID string, from time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.session_id FROM activity_sessions s
        JOIN session_participants p ON p.session_id = s.session_id
        WHERE s.activity_id = $1 AND p.user_id = $2 AND s.session_date >= $3
        ORDER BY s.session_id`, activityID, userID, from)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListParticipants implements domain.Repository.
func (r *Repository) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return listParticipants(ctx, r.pool, sessionID)
}

// ListParticipantsForSessions implements domain.Repository.
func (r *Repository) ListParticipantsForSessions(ctx context.Context, sessionIDs []string) (map[string][]domain.Participant, error) {
	out := make(map[string][]domain.Participant, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+participantColumns+` FROM session_participants
        WHERE session_id = ANY($1) ORDER BY session_id, joined_at, seq`, sessionIDs)
	if err != nil {
		return nil, err
	}
	participants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Participant, error) {
		return scanParticipant(row)
	})
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		out[p.SessionID] = append(out[p.SessionID], p)
	}
	return out, nil
}

// WithSessionLock implements domain.Repository by holding a row lock on the
// session for the lifetime of a transaction.
func (r *Repository) WithSessionLock(ctx context.Context, sessionID string, fn func(context.Context, domain.SessionTx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM activity_sessions WHERE session_id = $1 FOR UPDATE`, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrSessionNotFound
		}
		return err
	}

	if err = fn(ctx, &sessionTx{tx: tx, session: session}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listParticipants(ctx context.Context, q querier, sessionID string) ([]domain.Participant, error) {
	rows, err := q.Query(ctx, `SELECT `+participantColumns+` FROM session_participants
        WHERE session_id = $1 ORDER BY joined_at, seq`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Participant, error) {
		return scanParticipant(row)
	})
}

type sessionTx struct {
	tx      pgx.Tx
	session domain.Session
}

func (t *sessionTx) Session() domain.Session {
	return t.session
}

// Activity reads on the locked transaction so callbacks never need a second pooled connection.
func (t *sessionTx) Activity(ctx context.Context) (*domain.Activity, error) {
	return getActivity(ctx, t.tx, t.session.ActivityID)
}

func (t *sessionTx) UpdateSession(ctx context.Context, s domain.Session) error {
	_, err := t.tx.Exec(ctx, `UPDATE activity_sessions
        SET max_players=$2, status=$3, is_cancelled=$4, updated_at=$5
        WHERE session_id=$1`,
		t.session.ID, s.MaxPlayers, string(s.Status), s.IsCancelled, s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	s.ID, s.ActivityID, s.Day = t.session.ID, t.session.ActivityID, t.session.Day
	t.session = s
	return nil
}

func (t *sessionTx) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	return listParticipants(ctx, t.tx, t.session.ID)
}

func (t *sessionTx) InsertParticipant(ctx context.Context, p domain.Participant) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO session_participants (participant_id, session_id, user_id, status, joined_at)
        VALUES ($1,$2,$3,$4,$5)`,
		p.ID, t.session.ID, p.UserID, string(p.Status), p.JoinedAt,
	)
	if isPgError(err, uniqueViolation) {
		return domain.ErrAlreadyParticipating
	}
	return err
}

func (t *sessionTx) DeleteParticipant(ctx context.Context, userID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM session_participants WHERE session_id = $1 AND user_id = $2`, t.session.ID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotParticipating
	}
	return nil
}

func (t *sessionTx) UpdateParticipantStatus(ctx context.Context, userID string, status domain.ParticipantStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE session_participants SET status = $3 WHERE session_id = $1 AND user_id = $2`, t.session.ID, userID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotParticipating
	}
	return nil
}

func scanActivity(row pgx.Row) (domain.Activity, error) {
	var (
		a              domain.Activity
		days           []string
		recurrenceType string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Slug, &a.Sport, &a.MinPlayers, &a.MaxPlayers, &days, &recurrenceType, &a.StartTime, &a.EndTime, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Activity{}, err
	}
	weekdays, err := domain.ParseWeekdays(days)
	if err != nil {
		return domain.Activity{}, fmt.Errorf("activity %s: %w", a.ID, err)
	}
	a.RecurringDays = weekdays
	a.RecurringType = domain.RecurrenceType(recurrenceType)
	return a, nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var (
		s      domain.Session
		status string
	)
	if err := row.Scan(&s.ID, &s.ActivityID, &s.Date, &s.Day, &s.MaxPlayers, &status, &s.IsCancelled, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return domain.Session{}, err
	}
	s.Status = domain.SessionStatus(status)
	return s, nil
}

func scanParticipant(row pgx.Row) (domain.Participant, error) {
	var (
		p      domain.Participant
		status string
	)
	if err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &status, &p.JoinedAt, &p.Seq); err != nil {
		return domain.Participant{}, err
	}
	p.Status = domain.ParticipantStatus(status)
	return p, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
