package worker

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestJobSuppressesOverlappingFires(t *testing.T) {
	var running atomic.Int32
	var overlaps atomic.Int32
	release := make(chan struct{})

	j := &job{
		name:   "slow",
		logger: testLogger(),
		grace:  time.Minute,
		ctx:    context.Background(),
		run: func(ctx context.Context) {
			if running.Add(1) > 1 {
				overlaps.Add(1)
			}
			<-release
			running.Add(-1)
		},
	}

	go j.Run()
	// Wait until the first run holds the guard.
	for running.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// A second fire while running must return immediately without a
	// concurrent run.
	done := make(chan struct{})
	go func() {
		j.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("suppressed fire did not return promptly")
	}
	assert.Zero(t, overlaps.Load())

	close(release)
}

func TestJobCoalescesPendingFire(t *testing.T) {
	var runs atomic.Int32
	firstRunning := make(chan struct{})
	release := make(chan struct{})

	j := &job{
		name:   "coalesce",
		logger: testLogger(),
		grace:  time.Minute,
		ctx:    context.Background(),
		run: func(ctx context.Context) {
			if runs.Add(1) == 1 {
				close(firstRunning)
				<-release
			}
		},
	}

	done := make(chan struct{})
	go func() {
		j.Run()
		close(done)
	}()
	<-firstRunning

	// Three suppressed fires land during the first run; they coalesce
	// into exactly one follow-up.
	j.Run()
	j.Run()
	j.Run()
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not finish")
	}
	assert.Equal(t, int32(2), runs.Load(), "missed fires within grace coalesce into one run")
}

func TestJobDropsStalePendingFire(t *testing.T) {
	var runs atomic.Int32
	firstRunning := make(chan struct{})
	release := make(chan struct{})

	j := &job{
		name:   "stale",
		logger: testLogger(),
		grace:  time.Millisecond, // pending fires go stale immediately
		ctx:    context.Background(),
		run: func(ctx context.Context) {
			if runs.Add(1) == 1 {
				close(firstRunning)
				<-release
			}
		},
	}

	done := make(chan struct{})
	go func() {
		j.Run()
		close(done)
	}()
	<-firstRunning

	j.Run() // suppressed; by the time the first run ends it is stale
	time.Sleep(10 * time.Millisecond)
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not finish")
	}
	assert.Equal(t, int32(1), runs.Load(), "a fire outside the grace window is dropped")
}

func TestSchedulerPeriodicFires(t *testing.T) {
	// cron's constant-delay schedule has one-second granularity, so this
	// test runs on a real clock.
	var fires atomic.Int32
	s := NewScheduler(testLogger())
	s.AddPeriodic("tick", time.Second, func(ctx context.Context) {
		fires.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(2500 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, fires.Load(), int32(2))
}

func TestSchedulerStopCancelsJobContext(t *testing.T) {
	started := make(chan struct{}, 1)
	cancelled := make(chan struct{}, 1)

	s := NewScheduler(testLogger())
	s.AddPeriodic("blocker", 20*time.Millisecond, func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		select {
		case cancelled <- struct{}{}:
		default:
		}
	})

	s.Start(context.Background())
	<-started
	s.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context was not cancelled on Stop")
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	s := NewScheduler(testLogger())
	assert.Error(t, s.AddCron("bad", "not a cron spec", func(ctx context.Context) {}))
	assert.NoError(t, s.AddCron("daily", "0 9 * * *", func(ctx context.Context) {}))
}
