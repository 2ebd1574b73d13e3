// Package scheduler runs the daily task regeneration on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Regenerator interface {
	RegenerateAll(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron    *cron.Cron
	job     Regenerator
	logger  *zap.Logger
	timeout time.Duration
	ctx     context.Context
}

// New runs job on a cron schedule (five fields or a descriptor such
// as "@daily") evaluated in loc. Overlapping runs are skipped.
func New(schedule string, loc *time.Location, job Regenerator, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		job:     job,
		logger:  logger,
		timeout: 10 * time.Minute,
		ctx:     context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(s.ctx) }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Run starts the scheduler and blocks until ctx is cancelled and any
// running job has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("task scheduler started", zap.Time("next_run", s.cron.Entries()[0].Next))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("task scheduler stopped")
	return nil
}

// RunOnce regenerates today's tasks for all users.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.job.RegenerateAll(ctx)
	if err != nil {
		s.logger.Error("daily task regeneration failed", zap.Error(err))
		return
	}
	s.logger.Info("daily task regeneration finished",
		zap.Int("users", n),
		zap.Duration("took", time.Since(start)),
	)
}
