package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"blitz-tracker/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsJobsUntilStopped(t *testing.T) {
	s := New(zerolog.Nop())

	var ok, failing atomic.Int32
	s.Register(Job{Name: "ok", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		ok.Add(1)
		return nil
	}})
	s.Register(Job{Name: "failing", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}})

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		return ok.Load() >= 2 && failing.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	stopped := ok.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, ok.Load())

	assert.ErrorIs(t, s.Stop(), ErrNotRunning)
}

func TestScheduler_StopCancelsRunningJob(t *testing.T) {
	s := New(zerolog.Nop())

	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	s.Register(Job{Name: "slow", Interval: 5 * time.Millisecond, Run: func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}})

	require.NoError(t, s.Start(context.Background()))
	<-started
	require.NoError(t, s.Stop())
	assert.True(t, cancelled.Load())
}

func TestScheduler_IgnoresInvalidJobs(t *testing.T) {
	s := New(zerolog.Nop())
	s.Register(Job{Name: "never", Interval: 0, Run: func(context.Context) error { return nil }})
	s.Register(Job{Name: "nil", Interval: time.Second})
	assert.Empty(t, s.jobs)
}

func TestNewTracker_Disabled(t *testing.T) {
	s := NewTracker(&config.Config{SchedulerEnabled: false}, nil, zerolog.Nop())
	assert.Empty(t, s.jobs)
}

func TestNewTracker_Enabled(t *testing.T) {
	cfg := &config.Config{
		SchedulerEnabled:   true,
		UpdateInterval:     time.Hour,
		TokenRenewInterval: 0,
	}
	s := NewTracker(cfg, nil, zerolog.Nop())
	require.Len(t, s.jobs, 1)
	assert.Equal(t, "update_all", s.jobs[0].Name)
}
