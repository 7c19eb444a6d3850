package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/klinesync/config"
	"github.com/dnldd/klinesync/database"
	"github.com/dnldd/klinesync/engine"
	"github.com/dnldd/klinesync/fetch"
	"github.com/dnldd/klinesync/shared"
	"github.com/dnldd/klinesync/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	// ledgerTimeout bounds ledger bootstrap and writes.
	ledgerTimeout = time.Second * 10
)

// CollectorConfig represents the configuration struct for the collector service.
type CollectorConfig struct {
	// Config is the deploy-time configuration.
	Config *config.Config
	// Fs is the filesystem holding the dataset and watermark. Defaults to the
	// os filesystem.
	Fs afero.Fs
	// Clock reports the current time. Defaults to the system clock.
	Clock shared.Clock
	// Source overrides the configured kline source.
	Source shared.KlineFetcher
	// Ledger overrides the configured run ledger.
	Ledger database.RunRecorder
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *CollectorConfig) Validate() error {
	var errs error
	if cfg.Config == nil {
		errs = errors.Join(errs, fmt.Errorf("config cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}
	return errs
}

// Collector represents the kline collector service.
type Collector struct {
	cfg    *CollectorConfig
	source shared.KlineFetcher
	store  *store.Store
	ledger database.RunRecorder
	logger zerolog.Logger
}

// newSource creates the kline source selected by the config.
func newSource(cfg *config.Config) (shared.KlineFetcher, error) {
	switch cfg.Source {
	case config.SourceBinance:
		return fetch.NewBinanceClient(&fetch.BinanceConfig{
			BaseURL:   cfg.BaseURL,
			Symbol:    cfg.Symbol,
			Timeframe: cfg.Interval,
			Timeout:   cfg.RequestTimeout,
		})
	default:
		return fetch.NewRESTClient(&fetch.RESTConfig{
			BaseURL:   cfg.BaseURL,
			Symbol:    cfg.Symbol,
			Timeframe: cfg.Interval,
			Timeout:   cfg.RequestTimeout,
		})
	}
}

// NewCollector initializes a new collector service.
func NewCollector(ctx context.Context, cfg *CollectorConfig) (*Collector, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating collector config: %w", err)
	}

	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Clock == nil {
		cfg.Clock = shared.SystemClock{}
	}

	logger := cfg.Logger.With().Str("service", "collector").
		Str("symbol", cfg.Config.Symbol).Str("interval", cfg.Config.Interval.String()).Logger()

	source := cfg.Source
	if source == nil {
		source, err = newSource(cfg.Config)
		if err != nil {
			return nil, fmt.Errorf("creating %s source: %w", cfg.Config.Source, err)
		}
	}

	storeLogger := logger.With().Str("component", "store").Logger()
	st, err := store.NewStore(&store.StoreConfig{
		Fs:            cfg.Fs,
		DatasetPath:   cfg.Config.DatasetPath(),
		WatermarkPath: cfg.Config.WatermarkPath(),
		Layout:        cfg.Config.Layout,
		Logger:        &storeLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	ledger := cfg.Ledger
	if ledger == nil && cfg.Config.LedgerEndpoint != "" {
		ledgerLogger := logger.With().Str("component", "ledger").Logger()
		lctx, cancel := context.WithTimeout(ctx, ledgerTimeout)
		l, err := database.NewLedger(lctx, &database.LedgerConfig{
			Endpoint: cfg.Config.LedgerEndpoint,
			User:     cfg.Config.LedgerUser,
			Pass:     cfg.Config.LedgerPass,
			Logger:   &ledgerLogger,
		})
		cancel()
		switch {
		case err != nil:
			logger.Error().Msgf("run ledger unavailable, runs will not be recorded: %v", err)
		default:
			ledger = l
		}
	}

	return &Collector{
		cfg:    cfg,
		source: source,
		store:  st,
		ledger: ledger,
		logger: logger,
	}, nil
}

// record stores the provided run in the ledger when one is configured.
// Ledger failures are logged and never fail the run.
func (c *Collector) record(ctx context.Context, logger *zerolog.Logger, run *database.RunRecord) {
	if c.ledger == nil {
		return
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()

	err := c.ledger.RecordRun(lctx, run)
	if err != nil {
		logger.Error().Msgf("recording run: %v", err)
	}
}

// Run performs a single sync run.
func (c *Collector) Run(ctx context.Context) (*engine.Summary, error) {
	runID := uuid.NewString()
	logger := c.logger.With().Str("run", runID).Logger()
	started := c.cfg.Clock.Now()

	summary, err := c.sync(ctx, &logger)

	run := &database.RunRecord{
		ID:         runID,
		Symbol:     c.cfg.Config.Symbol,
		Interval:   c.cfg.Config.Interval.String(),
		Status:     database.Succeeded,
		StartedOn:  started,
		FinishedOn: c.cfg.Clock.Now(),
	}
	if summary != nil {
		run.BackfillRan = summary.BackfillRan
		run.BackfillPages = summary.BackfillPages
		run.BackfillRows = summary.BackfillRows
		run.IncrementalRows = summary.IncrementalRows
		if summary.HasWatermark {
			run.Watermark = summary.Watermark
		}
	}
	if err != nil {
		run.Status = database.Failed
		run.Error = err.Error()
	}
	c.record(ctx, &logger, run)

	if err != nil {
		logger.Error().Msgf("sync run failed: %v", err)
		return summary, err
	}

	logger.Info().Msg(summary.String())

	return summary, nil
}

// sync initializes the store and runs the sync engine.
func (c *Collector) sync(ctx context.Context, logger *zerolog.Logger) (*engine.Summary, error) {
	err := c.store.EnsureInitialized()
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	engineLogger := logger.With().Str("component", "engine").Logger()
	eng, err := engine.NewEngine(&engine.EngineConfig{
		Source:    c.source,
		Store:     c.store,
		Clock:     c.cfg.Clock,
		PageSize:  c.cfg.Config.PageSize,
		Lookback:  c.cfg.Config.Lookback(),
		PageDelay: c.cfg.Config.PageDelay,
		Logger:    &engineLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	return eng.Run(ctx)
}
