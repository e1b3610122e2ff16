// ABOUTME: Periodic naming sweeps driven by a cron schedule
// ABOUTME: Overlapping runs are skipped so one slow provider call never stacks sweeps

package naming

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs Maintainer.Sweep on a cron schedule.
type Scheduler struct {
	ctx        context.Context
	cron       *cron.Cron
	maintainer *Maintainer
	logger     *slog.Logger
}

// NewScheduler parses spec (standard five-field cron or a descriptor such as
// "@every 10m") and prepares a scheduler. Nothing runs until Run is called.
func NewScheduler(m *Maintainer, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "naming_scheduler")

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{cron: c, maintainer: m, logger: logger}
	if _, err := c.AddFunc(spec, s.sweep); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
	}
	return s, nil
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// an in-flight sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.logger.Info("naming scheduler started", "next", s.Next())
	s.cron.Start()

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("naming scheduler stopped")
	return nil
}

func (s *Scheduler) sweep() {
	renamed, err := s.maintainer.Sweep(s.ctx)
	if err != nil {
		s.logger.Warn("naming sweep had failures", "renamed", renamed, "error", err)
		return
	}
	s.logger.Info("naming sweep complete", "renamed", renamed)
}

// Next returns the next time a sweep is due.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Schedule.Next(time.Now().In(s.cron.Location()))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
