package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"trainee-forms/forms-backend/pkg/lock"
)

// ErrUnknownJob is returned when no job has the requested name.
var ErrUnknownJob = errors.New("unknown job")

// JobRunner runs one refresh job to completion.
type JobRunner interface {
	Run(ctx context.Context, job Job) (RefreshResult, error)
}

// SchedulerConfig configures job scheduling
type SchedulerConfig struct {
	// Schedules maps a job name to a cron expression with a seconds field.
	// Jobs without an expression only run on demand.
	Schedules map[string]string
	// LockAtMostFor bounds how long a crashed run can keep the job locked.
	LockAtMostFor time.Duration
}

// DefaultSchedulerConfig returns default configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Schedules:     map[string]string{},
		LockAtMostFor: 15 * time.Minute,
	}
}

// Scheduler runs refresh jobs on their cron schedules and on demand, holding
// the job's lock for the length of each run.
type Scheduler struct {
	cron    *cron.Cron
	runner  JobRunner
	locker  lock.Locker
	jobs    map[string]Job
	config  SchedulerConfig
	logger  *zap.Logger
	mu      sync.Mutex
	running bool
}

func NewScheduler(runner JobRunner, locker lock.Locker, jobs []Job, config SchedulerConfig, logger *zap.Logger) *Scheduler {
	byName := make(map[string]Job, len(jobs))
	for _, job := range jobs {
		byName[job.Name] = job
	}
	if config.LockAtMostFor <= 0 {
		config.LockAtMostFor = DefaultSchedulerConfig().LockAtMostFor
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		runner: runner,
		locker: locker,
		jobs:   byName,
		config: config,
		logger: logger,
	}
}

// Start registers every scheduled job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	for name, expr := range s.config.Schedules {
		if expr == "" {
			continue
		}
		if _, ok := s.jobs[name]; !ok {
			return fmt.Errorf("schedule for %q: %w", name, ErrUnknownJob)
		}
		jobName := name
		if _, err := s.cron.AddFunc(expr, func() { s.scheduledRun(ctx, jobName) }); err != nil {
			return fmt.Errorf("schedule %q with %q: %w", name, expr, err)
		}
		s.logger.Info("Scheduled refresh job", zap.String("job", name), zap.String("cron", expr))
	}

	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("Stopping scheduler")

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.running = false
}

func (s *Scheduler) scheduledRun(ctx context.Context, name string) {
	_, err := s.RunNow(ctx, name)
	switch {
	case errors.Is(err, lock.ErrNotAcquired):
		s.logger.Info("Skipping refresh job, locked elsewhere", zap.String("job", name))
	case err != nil:
		s.logger.Error("Refresh job failed", zap.String("job", name), zap.Error(err))
	}
}

// RunNow runs the named job immediately. It returns lock.ErrNotAcquired when
// another run holds the job's lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) (RefreshResult, error) {
	job, ok := s.jobs[name]
	if !ok {
		return RefreshResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	lease, acquired, err := s.locker.TryLock(ctx, job.LockName(), s.config.LockAtMostFor)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("lock %s: %w", job.LockName(), err)
	}
	if !acquired {
		return RefreshResult{}, lock.ErrNotAcquired
	}
	defer func() {
		if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release job lock", zap.String("lock", job.LockName()), zap.Error(err))
		}
	}()

	return s.runner.Run(ctx, job)
}
