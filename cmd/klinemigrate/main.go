package main

import (
	"fmt"
	"os"

	"github.com/dnldd/klinesync/config"
	"github.com/dnldd/klinesync/migrate"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// run migrates the configured dataset and watermark to their current formats.
func run() error {
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fs := afero.NewOsFs()

	res, err := migrate.Dataset(fs, cfg.DatasetPath())
	if err != nil {
		return fmt.Errorf("migrating dataset: %w", err)
	}
	switch {
	case res.Migrated:
		fmt.Printf("Migrated %d rows.\n", res.Rows)
	case res.Empty:
		fmt.Println("Dataset is empty, nothing to migrate.")
	default:
		fmt.Println("Dataset already migrated.")
	}

	rewritten, err := migrate.Watermark(fs, cfg.WatermarkPath())
	if err != nil {
		return fmt.Errorf("migrating watermark: %w", err)
	}
	if rewritten {
		fmt.Println("Rewrote legacy watermark.")
	}

	return nil
}

func main() {
	err := run()
	if err != nil {
		log.Error().Msgf("migration failed: %v", err)
		os.Exit(1)
	}
}
