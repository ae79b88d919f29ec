/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/subhub/subscription-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler. The expiry sweep also
// runs once immediately so overdue rows are not left waiting for the first tick.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.ExpirySweepSchedule, s.jobs.RunExpirySweep); err != nil {
		s.logger.Error("failed to schedule expiry sweep job", "error", err)
	} else {
		s.logger.Info("scheduled expiry sweep job", "schedule", s.config.ExpirySweepSchedule)
	}

	s.cron.Start()
	go s.jobs.RunExpirySweep()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
