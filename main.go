package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dnldd/klinesync/config"
	"github.com/dnldd/klinesync/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// run performs a single sync run and prints its summary.
func run(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	zerolog.SetGlobalLevel(cfg.LogLevel)

	collector, err := service.NewCollector(ctx, &service.CollectorConfig{
		Config: cfg,
		Logger: &log.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating collector: %w", err)
	}

	summary, err := collector.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println(summary.String())

	return nil
}

func main() {
	err := run(context.Background())
	if err != nil {
		log.Error().Msgf("sync failed: %v", err)
		os.Exit(1)
	}
}
