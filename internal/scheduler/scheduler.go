// Package scheduler runs the periodic bulk refresh and token renewal jobs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"blitz-tracker/internal/config"
	"blitz-tracker/internal/service"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrNotRunning     = errors.New("scheduler is not running")
)

// Job is a named unit of work run every Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    []Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With().Str("component", "scheduler").Logger()}
}

// NewTracker builds the scheduler with the refresh jobs enabled by cfg.
func NewTracker(cfg *config.Config, refresh *service.RefreshService, logger zerolog.Logger) *Scheduler {
	s := New(logger)
	if !cfg.SchedulerEnabled {
		return s
	}

	s.Register(Job{
		Name:     "update_all",
		Interval: cfg.UpdateInterval,
		Run: func(ctx context.Context) error {
			task, err := refresh.UpdateAll(ctx, service.UpdateOptions{Window: cfg.RefreshWindow})
			if err != nil {
				return err
			}
			s.logger.Info().
				Str("task_id", task.ID).
				Int("done", task.Done).
				Int("failed", task.Failed).
				Msg("scheduled update finished")
			return nil
		},
	})
	s.Register(Job{
		Name:     "renew_tokens",
		Interval: cfg.TokenRenewInterval,
		Run: func(ctx context.Context) error {
			renewed, err := refresh.RenewTokens(ctx)
			if err != nil {
				return err
			}
			s.logger.Info().Int("renewed", renewed).Msg("scheduled token renewal finished")
			return nil
		},
	})
	return s
}

// Register adds a job. Jobs with a non-positive interval are ignored.
// Must be called before Start.
func (s *Scheduler) Register(job Job) {
	if job.Interval <= 0 || job.Run == nil {
		s.logger.Warn().Str("job", job.Name).Dur("interval", job.Interval).Msg("job not registered")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return nil
}

// loop runs one job per tick. Runs of the same job never overlap; a tick
// that fires while the job is still running is dropped by the ticker.
func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	start := time.Now()
	s.logger.Info().Str("job", job.Name).Msg("job started")

	if err := job.Run(ctx); err != nil {
		s.logger.Error().
			Err(err).
			Str("job", job.Name).
			Dur("took", time.Since(start)).
			Msg("job failed")
		return
	}

	s.logger.Info().
		Str("job", job.Name).
		Dur("took", time.Since(start)).
		Msg("job completed")
}
