// Package worker runs the scheduled jobs of the ACL service: the hourly
// expiry sweep and the daily expiring-grant notifications.
//
// Scheduling is cooperative: each job has a single-instance guard so
// overlapping fires are suppressed, and fires that land while a run is in
// progress are coalesced into at most one follow-up run when they fall
// within the misfire grace window.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultMisfireGrace bounds how stale a suppressed fire may be and still
// trigger a coalesced follow-up run.
const defaultMisfireGrace = 5 * time.Minute

// job wraps a run function with the single-instance and coalescing
// behavior. It satisfies cron.Job.
type job struct {
	name   string
	run    func(ctx context.Context)
	logger *slog.Logger
	grace  time.Duration

	// ctx is the worker's lifetime context, installed at Start.
	ctx context.Context

	mu          sync.Mutex
	running     bool
	pendingFire time.Time // zero when no suppressed fire is waiting
}

// Run is invoked by the cron scheduler on every fire.
func (j *job) Run() {
	j.mu.Lock()
	if j.running {
		// Overlapping instance: suppress, remember the fire so it can
		// be coalesced when the current run finishes.
		j.pendingFire = time.Now()
		j.mu.Unlock()
		j.logger.Warn("worker: overlapping fire suppressed", "job", j.name)
		return
	}
	j.running = true
	j.mu.Unlock()

	for {
		j.run(j.ctx)

		j.mu.Lock()
		fire := j.pendingFire
		j.pendingFire = time.Time{}
		if fire.IsZero() || time.Since(fire) > j.grace || j.ctx.Err() != nil {
			j.running = false
			j.mu.Unlock()
			return
		}
		j.mu.Unlock()
		// One coalesced run covers all fires missed within the grace
		// window.
		j.logger.Info("worker: running coalesced fire", "job", j.name)
	}
}

// Scheduler owns the cron instance and its jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   []*job
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		logger: logger,
	}
}

// AddPeriodic registers a job firing every period.
func (s *Scheduler) AddPeriodic(name string, period time.Duration, run func(ctx context.Context)) {
	j := &job{name: name, run: run, logger: s.logger, grace: defaultMisfireGrace}
	s.jobs = append(s.jobs, j)
	s.cron.Schedule(cron.Every(period), j)
}

// AddCron registers a job on a standard 5-field cron spec, evaluated in UTC.
func (s *Scheduler) AddCron(name, spec string, run func(ctx context.Context)) error {
	j := &job{name: name, run: run, logger: s.logger, grace: defaultMisfireGrace}
	if _, err := s.cron.AddJob(spec, j); err != nil {
		return err
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start begins firing jobs. The derived context is handed to every run and
// cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		j.ctx = ctx
	}
	s.cron.Start()
	s.logger.Info("worker: scheduler started", "jobs", len(s.jobs))
}

// Stop cancels running jobs and waits for the cron loop to wind down.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("worker: scheduler stopped")
}
