package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// SchedulerConfig represents the configuration for the periodic runner.
type SchedulerConfig struct {
	// Every is the interval between runs.
	Every time.Duration
	// Run performs a single run.
	Run func(ctx context.Context) error
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *SchedulerConfig) Validate() error {
	var errs error
	if cfg.Every <= 0 {
		errs = errors.Join(errs, fmt.Errorf("schedule interval must be positive, got %s", cfg.Every))
	}
	if cfg.Run == nil {
		errs = errors.Join(errs, fmt.Errorf("run function cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}
	return errs
}

// Scheduler invokes a run periodically, never overlapping runs.
type Scheduler struct {
	cfg          *SchedulerConfig
	jobScheduler *gocron.Scheduler
}

// NewScheduler initializes a new periodic runner.
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating scheduler config: %w", err)
	}

	jobScheduler := gocron.NewScheduler(time.UTC)
	jobScheduler.SingletonModeAll()

	return &Scheduler{
		cfg:          cfg,
		jobScheduler: jobScheduler,
	}, nil
}

// Run schedules runs immediately and then every configured interval until
// the provided context is cancelled. A failed run is logged and retried on
// the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.jobScheduler.Every(s.cfg.Every).Do(func() {
		if ctx.Err() != nil {
			return
		}

		err := s.cfg.Run(ctx)
		if err != nil {
			s.cfg.Logger.Error().Msgf("scheduled run failed, retrying in %s: %v", s.cfg.Every, err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling runs: %w", err)
	}

	s.cfg.Logger.Info().Msgf("running every %s", s.cfg.Every)
	s.jobScheduler.StartAsync()

	<-ctx.Done()
	s.jobScheduler.Stop()

	return nil
}
