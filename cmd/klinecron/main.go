package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnldd/klinesync/config"
	"github.com/dnldd/klinesync/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt and termination signals.
	signals := []os.Signal{os.Interrupt, syscall.SIGTERM}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)
	defer signal.Stop(interrupt)

	// Wait for the context to be cancelled or a signal.
	select {
	case <-ctx.Done():
	case sig := <-interrupt:
		log.Info().Msgf("received %s, shutting down", sig)
		cancel()
	}
}

func main() {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		log.Error().Msgf("loading config: %v", err)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleTermination(ctx, cancel)

	collector, err := service.NewCollector(ctx, &service.CollectorConfig{
		Config: cfg,
		Logger: &log.Logger,
	})
	if err != nil {
		log.Error().Msgf("creating collector: %v", err)
		os.Exit(1)
	}

	schedLogger := log.With().Str("service", "scheduler").Logger()
	sched, err := service.NewScheduler(&service.SchedulerConfig{
		Every: cfg.Schedule,
		Run: func(ctx context.Context) error {
			_, err := collector.Run(ctx)
			return err
		},
		Logger: &schedLogger,
	})
	if err != nil {
		log.Error().Msgf("creating scheduler: %v", err)
		os.Exit(1)
	}

	err = sched.Run(ctx)
	if err != nil {
		log.Error().Msgf("running scheduler: %v", err)
		os.Exit(1)
	}
}
