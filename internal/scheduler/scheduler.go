// Package scheduler runs the periodic background jobs: the account
// re-query and the cache cleanup.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler wraps a cron runner with per-job logging and panic isolation.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates an empty scheduler. Add jobs before calling Start.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob schedules job under the given cron spec (standard 5-field specs and
// @every durations).
func (s *Scheduler) AddJob(spec, name string, job func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error().Str("job", name).Interface("panic", rec).Msg("Scheduled job panicked")
			}
		}()
		s.log.Debug().Str("job", name).Msg("Running scheduled job")
		job()
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("Scheduled job")
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling; the returned context is done once running jobs
// finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
