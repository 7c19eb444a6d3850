package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dnldd/klinesync/engine"
	"github.com/dnldd/klinesync/fetch"
	"github.com/dnldd/klinesync/shared"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const (
	// DefaultPath is the configuration file read from the working directory.
	DefaultPath = "klines.env"

	// SourceREST fetches klines with the plain rest client.
	SourceREST = "rest"
	// SourceBinance fetches klines with the binance sdk.
	SourceBinance = "binance"
)

// Config is the configuration struct for the collector. It is fixed at
// deploy time by a dotenv formatted file.
type Config struct {
	// Symbol is the tracked trading pair.
	Symbol string
	// Interval is the kline granularity.
	Interval shared.Timeframe
	// PageSize is the number of klines requested per page.
	PageSize int
	// LookbackDays is the backfill window in days.
	LookbackDays int
	// BaseURL is the kline api base url.
	BaseURL string
	// DataDir is the directory holding datasets.
	DataDir string
	// StateDir is the directory holding watermarks.
	StateDir string
	// Source selects the kline source adapter.
	Source string
	// RequestTimeout bounds each kline request.
	RequestTimeout time.Duration
	// PageDelay is the pause between backfill pages.
	PageDelay time.Duration
	// Layout is the column layout of newly created datasets.
	Layout shared.Layout
	// Schedule is the interval between runs of the periodic collector.
	Schedule time.Duration
	// LedgerEndpoint is the run ledger endpoint, empty disables the ledger.
	LedgerEndpoint string
	// LedgerUser is the run ledger user.
	LedgerUser string
	// LedgerPass is the run ledger user pass.
	LedgerPass string
	// LogLevel is the minimum logged level.
	LogLevel zerolog.Level
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Symbol:         "ETHUSDT",
		Interval:       shared.FiveMinute,
		PageSize:       engine.MaxPageSize,
		LookbackDays:   60,
		BaseURL:        fetch.BaseURL,
		DataDir:        "data",
		StateDir:       "state",
		Source:         SourceREST,
		RequestTimeout: fetch.DefaultTimeout,
		PageDelay:      engine.DefaultPageDelay,
		Layout:         shared.Basic,
		Schedule:       time.Minute * 5,
		LogLevel:       zerolog.InfoLevel,
	}
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if cfg.Symbol == "" {
		errs = errors.Join(errs, fmt.Errorf("symbol cannot be an empty string"))
	}
	_, err := shared.ParseTimeframe(cfg.Interval.String())
	if err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.PageSize < 1 || cfg.PageSize > engine.MaxPageSize {
		errs = errors.Join(errs, fmt.Errorf("page size must be between 1 and %d, got %d",
			engine.MaxPageSize, cfg.PageSize))
	}
	if cfg.LookbackDays < 1 {
		errs = errors.Join(errs, fmt.Errorf("lookback days must be positive, got %d", cfg.LookbackDays))
	}
	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("base url cannot be an empty string"))
	}
	if cfg.DataDir == "" {
		errs = errors.Join(errs, fmt.Errorf("data dir cannot be an empty string"))
	}
	if cfg.StateDir == "" {
		errs = errors.Join(errs, fmt.Errorf("state dir cannot be an empty string"))
	}
	if cfg.Source != SourceREST && cfg.Source != SourceBinance {
		errs = errors.Join(errs, fmt.Errorf("unknown source %q, expected %s or %s",
			cfg.Source, SourceREST, SourceBinance))
	}
	if cfg.RequestTimeout <= 0 {
		errs = errors.Join(errs, fmt.Errorf("request timeout must be positive, got %s", cfg.RequestTimeout))
	}
	if cfg.PageDelay < 0 {
		errs = errors.Join(errs, fmt.Errorf("page delay cannot be negative, got %s", cfg.PageDelay))
	}
	if cfg.Schedule <= 0 {
		errs = errors.Join(errs, fmt.Errorf("schedule must be positive, got %s", cfg.Schedule))
	}

	return errs
}

// Lookback returns the backfill window.
func (cfg *Config) Lookback() time.Duration {
	return time.Hour * 24 * time.Duration(cfg.LookbackDays)
}

// DatasetPath returns the dataset path for the configured pair and interval.
func (cfg *Config) DatasetPath() string {
	return filepath.Join(cfg.DataDir, fmt.Sprintf("%s_%s.csv", cfg.Symbol, cfg.Interval))
}

// WatermarkPath returns the watermark path for the configured pair and interval.
func (cfg *Config) WatermarkPath() string {
	return filepath.Join(cfg.StateDir, fmt.Sprintf("last_open_time_%s_%s.txt", cfg.Symbol, cfg.Interval))
}

// parseDuration parses a duration, accepting bare integers as seconds.
func parseDuration(s string) (time.Duration, error) {
	secs, err := strconv.Atoi(s)
	if err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	return time.ParseDuration(s)
}

// apply sets the config fields named by the provided key values.
func (cfg *Config) apply(values map[string]string) error {
	setters := map[string]func(string) error{
		"SYMBOL": func(s string) error {
			cfg.Symbol = strings.ToUpper(s)
			return nil
		},
		"INTERVAL": func(s string) error {
			tf, err := shared.ParseTimeframe(s)
			cfg.Interval = tf
			return err
		},
		"PAGE_SIZE": func(s string) (err error) {
			cfg.PageSize, err = strconv.Atoi(s)
			return err
		},
		"LOOKBACK_DAYS": func(s string) (err error) {
			cfg.LookbackDays, err = strconv.Atoi(s)
			return err
		},
		"BASE_URL": func(s string) error {
			cfg.BaseURL = strings.TrimRight(s, "/")
			return nil
		},
		"DATA_DIR": func(s string) error {
			cfg.DataDir = s
			return nil
		},
		"STATE_DIR": func(s string) error {
			cfg.StateDir = s
			return nil
		},
		"SOURCE": func(s string) error {
			cfg.Source = strings.ToLower(s)
			return nil
		},
		"REQUEST_TIMEOUT": func(s string) (err error) {
			cfg.RequestTimeout, err = parseDuration(s)
			return err
		},
		"PAGE_DELAY": func(s string) (err error) {
			cfg.PageDelay, err = parseDuration(s)
			return err
		},
		"DATASET_LAYOUT": func(s string) (err error) {
			cfg.Layout, err = shared.ParseLayout(strings.ToLower(s))
			return err
		},
		"SCHEDULE": func(s string) (err error) {
			cfg.Schedule, err = parseDuration(s)
			return err
		},
		"LEDGER_ENDPOINT": func(s string) error {
			cfg.LedgerEndpoint = s
			return nil
		},
		"LEDGER_USER": func(s string) error {
			cfg.LedgerUser = s
			return nil
		},
		"LEDGER_PASS": func(s string) error {
			cfg.LedgerPass = s
			return nil
		},
		"LOG_LEVEL": func(s string) (err error) {
			cfg.LogLevel, err = zerolog.ParseLevel(strings.ToLower(s))
			return err
		},
	}

	var errs error
	for key, value := range values {
		set, ok := setters[key]
		if !ok {
			errs = errors.Join(errs, fmt.Errorf("unknown config key %s", key))
			continue
		}

		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		err := set(value)
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", key, err))
		}
	}

	return errs
}

// Load loads the configuration from the dotenv formatted file at path on top
// of the defaults. A missing file yields the defaults. The process environment
// is never consulted.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()

	// Check if the expected config file exists before reading it.
	_, err := os.Stat(path)
	switch {
	case err == nil:
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		err = cfg.apply(values)
		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("inspecting config file %s: %w", path, err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}
