package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxBackoff = time.Hour

type replayOutcome string

const (
	outcomeRequeued    replayOutcome = "requeued"
	outcomeQuarantined replayOutcome = "quarantined"
	outcomeRetry       replayOutcome = "retry_scheduled"
)

// ReplayStats summarises one DLQ pass.
type ReplayStats struct {
	Requeued    int
	Quarantined int
	Retrying    int
}

// Handled counts entries that left the pending DLQ during the pass.
func (s ReplayStats) Handled() int {
	return s.Requeued + s.Quarantined
}

func (s *ReplayStats) add(outcome replayOutcome) {
	switch outcome {
	case outcomeRequeued:
		s.Requeued++
	case outcomeQuarantined:
		s.Quarantined++
	case outcomeRetry:
		s.Retrying++
	}
}

// DLQManager moves dead-lettered events back into the outbox with exponential
// backoff, quarantining entries that exhaust their retries.
type DLQManager struct {
	pool       *pgxpool.Pool
	maxRetries int
	baseDelay  time.Duration
	logger     *log.Logger
}

// NewDLQManager constructs a DLQManager. Non-positive settings fall back to
// five retries and a one minute base delay.
func NewDLQManager(pool *pgxpool.Pool, maxRetries int, baseDelay time.Duration) *DLQManager {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if baseDelay <= 0 {
		baseDelay = time.Minute
	}
	return &DLQManager{
		pool:       pool,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     log.New(log.Writer(), "[dlq] ", log.LstdFlags),
	}
}

// Run replays due entries every interval until ctx is cancelled.
func (m *DLQManager) Run(ctx context.Context, interval time.Duration, batchSize int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats, err := m.RunOnce(ctx, batchSize)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Printf("replay pass: %v", err)
		}
		if stats.Handled() > 0 || stats.Retrying > 0 {
			m.logger.Printf("requeued=%d quarantined=%d retrying=%d", stats.Requeued, stats.Quarantined, stats.Retrying)
		}
	}
}

// RunOnce handles up to batchSize due entries. Per-entry failures are joined
// into the returned error and do not stop the pass.
func (m *DLQManager) RunOnce(ctx context.Context, batchSize int) (ReplayStats, error) {
	var stats ReplayStats

	rows, err := m.pool.Query(ctx,
		`SELECT dlq_id, event_type, topic, retry_count
           FROM outbox_dlq
          WHERE quarantined_at IS NULL AND (next_retry_at IS NULL OR next_retry_at <= NOW())
          ORDER BY created_at, dlq_id
          LIMIT $1`, batchSize)
	if err != nil {
		return stats, fmt.Errorf("select due dlq entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByPos[dlqEntry])
	if err != nil {
		return stats, fmt.Errorf("select due dlq entries: %w", err)
	}

	var errs error
	for _, entry := range entries {
		outcome, err := m.replay(ctx, entry)
		stats.add(outcome)
		recordDLQOutcome(outcome, entry)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("dlq entry %d: %w", entry.ID, err))
		}
	}
	m.refreshBacklog(ctx)
	return stats, errs
}

func (m *DLQManager) replay(ctx context.Context, entry dlqEntry) (replayOutcome, error) {
	if entry.RetryCount >= m.maxRetries {
		if _, err := m.pool.Exec(ctx,
			`UPDATE outbox_dlq SET quarantined_at = NOW(), quarantine_reason = 'retry limit reached' WHERE dlq_id = $1`,
			entry.ID); err != nil {
			return "", err
		}
		return outcomeQuarantined, nil
	}

	if err := m.requeue(ctx, entry); err != nil {
		if schedErr := m.scheduleRetry(ctx, entry, err); schedErr != nil {
			return "", errors.Join(err, schedErr)
		}
		return outcomeRetry, err
	}
	return outcomeRequeued, nil
}

// requeue copies the entry back into the outbox and removes it from the DLQ atomically.
func (m *DLQManager) requeue(ctx context.Context, entry dlqEntry) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         SELECT aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
           FROM outbox_dlq
          WHERE dlq_id = $1 AND schema_subject <> ''`, entry.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("missing schema_subject for dlq entry %d", entry.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM outbox_dlq WHERE dlq_id = $1`, entry.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (m *DLQManager) scheduleRetry(ctx context.Context, entry dlqEntry, cause error) error {
	delay := m.backoffDelay(entry.RetryCount + 1)
	_, err := m.pool.Exec(ctx,
		`UPDATE outbox_dlq
            SET retry_count = retry_count + 1,
                last_attempt_at = NOW(),
                next_retry_at = NOW() + $1::interval,
                reason = $2
          WHERE dlq_id = $3`,
		delay, cause.Error(), entry.ID)
	return err
}

// backoffDelay doubles baseDelay per attempt, capped at one hour.
func (m *DLQManager) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := m.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return min(delay, maxBackoff)
}

func (m *DLQManager) refreshBacklog(ctx context.Context) {
	var pending int
	if err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&pending); err != nil {
		return
	}
	dlqBacklogGauge.Set(float64(pending))
}

// dlqEntry is the part of an outbox_dlq row needed to route a replay. Field
// order matches the selection query.
type dlqEntry struct {
	ID         int64
	EventType  string
	Topic      string
	RetryCount int
}
