package purge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the purge hourly.
const DefaultSchedule = "17 * * * *"

const queue = "filegate_purge"

var (
	ErrPoolRequired   = errors.New("purge: database pool is required")
	ErrInvalidCron    = errors.New("purge: invalid cron schedule")
	ErrAlreadyStarted = errors.New("purge: scheduler already started")
	ErrNotStarted     = errors.New("purge: scheduler not started")
)

type purgeArgs struct{}

func (purgeArgs) Kind() string { return "filegate:purge" }

func (purgeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:      queue,
		UniqueOpts: river.UniqueOpts{ByPeriod: time.Minute},
	}
}

type purgeWorker struct {
	river.WorkerDefaults[purgeArgs]
	purger *Purger
}

func (w *purgeWorker) Work(ctx context.Context, _ *river.Job[purgeArgs]) error {
	_, err := w.purger.Run(ctx)
	return err
}

// Scheduler runs a Purger periodically through a river queue, so only one
// instance of a deployment purges at a time.
type Scheduler struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	log    *slog.Logger

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler running purger on the cron expression
// schedule (five fields). An empty schedule uses DefaultSchedule.
func NewScheduler(pool *pgxpool.Pool, purger *Purger, schedule string) (*Scheduler, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	sched, err := parseCronSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, schedule, err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &purgeWorker{purger: purger})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  map[string]river.QueueConfig{queue: {MaxWorkers: 1}},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(sched, func() (river.JobArgs, *river.InsertOpts) {
				return purgeArgs{}, nil
			}, &river.PeriodicJobOpts{RunOnStart: true}),
		},
		Logger: purger.log,
	})
	if err != nil {
		return nil, fmt.Errorf("purge: create river client: %w", err)
	}

	return &Scheduler{pool: pool, client: client, log: purger.log}, nil
}

// Migrate creates or upgrades the river tables.
func (s *Scheduler) Migrate(ctx context.Context) error {
	m, err := rivermigrate.New(riverpgxv5.New(s.pool), nil)
	if err != nil {
		return fmt.Errorf("purge: river migrator: %w", err)
	}
	if _, err := m.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("purge: river migrate: %w", err)
	}
	return nil
}

// Start begins processing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("purge: start: %w", err)
	}
	s.started = true
	s.log.InfoContext(ctx, "purge scheduler started")
	return nil
}

// Stop waits for a running purge to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if err := s.client.Stop(ctx); err != nil {
		return fmt.Errorf("purge: stop: %w", err)
	}
	s.started = false
	s.log.InfoContext(ctx, "purge scheduler stopped")
	return nil
}

type cronScheduleAdapter struct {
	schedule cron.Schedule
}

func (a *cronScheduleAdapter) Next(current time.Time) time.Time {
	return a.schedule.Next(current)
}

func parseCronSchedule(expr string) (river.PeriodicSchedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{schedule: schedule}, nil
}
