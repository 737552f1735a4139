// Package schedule triggers pipeline runs on a cron spec. Runs never
// overlap: a tick that fires while the previous run is still going is
// skipped.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler wraps a cron instance with a single job entry.
type Scheduler struct {
	cron   *cron.Cron
	entry  cron.EntryID
	spec   string
	logger *slog.Logger

	mu  sync.Mutex
	ctx context.Context
	wg  sync.WaitGroup
}

// New validates spec (standard five-field cron or an @descriptor) and
// registers job.
func New(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		spec:   spec,
		logger: logger,
		ctx:    context.Background(),
	}

	id, err := s.cron.AddFunc(spec, func() {
		ctx := s.jobContext()
		start := time.Now()
		logger.Info("Scheduled run starting", "schedule", spec)
		if err := job(ctx); err != nil {
			logger.Error("Scheduled run failed", "error", err, "duration", time.Since(start).Round(time.Millisecond))
			return
		}
		logger.Info("Scheduled run finished", "duration", time.Since(start).Round(time.Millisecond))
	})
	if err != nil {
		return nil, fmt.Errorf("schedule job: %w", err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Next returns when the job fires next after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.cron.Entry(s.entry).Schedule.Next(t)
}

// Trigger runs the job now, through the same overlap guard as scheduled
// ticks. It returns immediately if a run is already in progress.
func (s *Scheduler) Trigger() {
	s.cron.Entry(s.entry).WrappedJob.Run()
}

// Run starts the cron loop and blocks until ctx is done, then waits for an
// in-flight run to return. ctx is passed to every run.
func (s *Scheduler) Run(ctx context.Context, runOnStart bool) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", "schedule", s.spec, "next_run", s.Next(time.Now()).Format(time.RFC3339))
	if runOnStart {
		s.wg.Go(s.Trigger)
	}

	<-ctx.Done()
	s.logger.Info("Scheduler stopping, waiting for running job")
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
