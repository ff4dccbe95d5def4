// Package scheduler keeps every activity's session horizon materialized on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const jobName = "materialize-sessions"

// Materializer is the slice of domain.Service the scheduler drives.
type Materializer interface {
	GenerateAllSessions(ctx context.Context, from time.Time, weeksAhead int) (int, error)
	Now() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger overrides the logger used to report runs.
func WithLogger(logger *log.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithLocation sets the timezone the underlying gocron scheduler runs in.
func WithLocation(loc *time.Location) Option {
	return func(r *Runner) {
		r.loc = loc
	}
}

// WithRunTimeout bounds a single materialization pass.
func WithRunTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.runTimeout = d
	}
}

// Runner re-runs materialization for all activities. Runs never overlap: a
// run that is still going when the next tick fires causes that tick to be skipped.
type Runner struct {
	materializer Materializer
	interval     time.Duration
	weeksAhead   int
	runTimeout   time.Duration
	loc          *time.Location
	logger       *log.Logger

	sched gocron.Scheduler
}

// New constructs a Runner. Call Start to begin scheduling.
func New(m Materializer, interval time.Duration, weeksAhead int, opts ...Option) (*Runner, error) {
	if interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	r := &Runner{
		materializer: m,
		interval:     interval,
		weeksAhead:   weeksAhead,
		runTimeout:   5 * time.Minute,
		loc:          time.UTC,
		logger:       log.New(log.Writer(), "[materializer] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(r)
	}

	sched, err := gocron.NewScheduler(
		gocron.WithLocation(r.loc),
		gocron.WithStopTimeout(r.runTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	r.sched = sched
	return r, nil
}

// Start registers the materialization job, runs it immediately and then every interval.
// ctx bounds every run; cancel it and call Shutdown to stop.
func (r *Runner) Start(ctx context.Context) error {
	_, err := r.sched.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			_, _ = r.RunOnce(ctx)
		}),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("register %s: %w", jobName, err)
	}
	r.sched.Start()
	r.logger.Printf("materializing %d weeks ahead every %s", r.weeksAhead, r.interval)
	return nil
}

// RunOnce performs one materialization pass starting at the service clock's now.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	start := time.Now()
	created, err := r.materializer.GenerateAllSessions(ctx, r.materializer.Now(), r.weeksAhead)
	recordRun(time.Since(start), err)
	if err != nil {
		r.logger.Printf("materialization finished with errors (created=%d): %v", created, err)
		return created, err
	}
	if created > 0 {
		r.logger.Printf("materialized %d sessions", created)
	}
	return created, nil
}

// Shutdown stops scheduling and waits for a running pass to finish.
func (r *Runner) Shutdown() error {
	return r.sched.Shutdown()
}
