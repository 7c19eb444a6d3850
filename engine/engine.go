package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/klinesync/fetch"
	"github.com/dnldd/klinesync/shared"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// MaxPageSize is the largest page the kline endpoint serves.
	MaxPageSize = 1000
	// DefaultLookback is the default backfill lookback window.
	DefaultLookback = time.Hour * 24 * 60
	// DefaultPageDelay is the default pause between backfill pages.
	DefaultPageDelay = time.Millisecond * 250
)

// EngineConfig represents the configuration for the sync engine.
type EngineConfig struct {
	// Source fetches pages of klines.
	Source shared.KlineFetcher
	// Store persists klines and the watermark.
	Store shared.KlineStorer
	// Clock reports the current time.
	Clock shared.Clock
	// PageSize is the number of klines requested per page.
	PageSize int
	// Lookback is how far back a backfill starts from the current time.
	Lookback time.Duration
	// PageDelay is the politeness pause between backfill pages. Zero disables it.
	PageDelay time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *EngineConfig) Validate() error {
	var errs error
	if cfg.Source == nil {
		errs = errors.Join(errs, fmt.Errorf("source cannot be nil"))
	}
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("store cannot be nil"))
	}
	if cfg.Clock == nil {
		errs = errors.Join(errs, fmt.Errorf("clock cannot be nil"))
	}
	if cfg.PageSize < 1 || cfg.PageSize > MaxPageSize {
		errs = errors.Join(errs, fmt.Errorf("page size must be between 1 and %d, got %d",
			MaxPageSize, cfg.PageSize))
	}
	if cfg.Lookback <= 0 {
		errs = errors.Join(errs, fmt.Errorf("lookback must be positive, got %s", cfg.Lookback))
	}
	if cfg.PageDelay < 0 {
		errs = errors.Join(errs, fmt.Errorf("page delay cannot be negative, got %s", cfg.PageDelay))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}
	return errs
}

// Summary represents the outcome of a sync run.
type Summary struct {
	// BackfillRan is whether the backfill phase was run.
	BackfillRan bool
	// BackfillPages is the number of pages fetched during backfill.
	BackfillPages int
	// BackfillRows is the number of rows appended during backfill.
	BackfillRows int
	// IncrementalRows is the number of rows appended by the incremental phase.
	IncrementalRows int
	// Watermark is the watermark after the run.
	Watermark int64
	// HasWatermark is whether a watermark exists after the run.
	HasWatermark bool
	// PageFull is whether the incremental page came back full, in which case
	// more klines are likely pending upstream.
	PageFull bool
}

// Appended returns the total number of rows appended.
func (s *Summary) Appended() int {
	return s.BackfillRows + s.IncrementalRows
}

// String stringifies the summary as a one line report.
func (s *Summary) String() string {
	wm := "none"
	if s.HasWatermark {
		wm = shared.FormatUTC(s.Watermark)
	}

	str := fmt.Sprintf("appended %d rows", s.Appended())
	if s.BackfillRan {
		str += fmt.Sprintf(" (backfill %d over %d pages, incremental %d)",
			s.BackfillRows, s.BackfillPages, s.IncrementalRows)
	}
	str += fmt.Sprintf(", watermark %s", wm)
	if s.PageFull {
		str += ", more pending"
	}

	return str
}

// Engine synchronizes the kline dataset with the remote source.
type Engine struct {
	cfg *EngineConfig
}

// NewEngine initializes a new sync engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating engine config: %w", err)
	}

	return &Engine{cfg: cfg}, nil
}

// nowMs returns the current time in milliseconds.
func (e *Engine) nowMs() int64 {
	return e.cfg.Clock.Now().UnixMilli()
}

// accept returns the klines strictly newer than the floor in strictly
// increasing open time order, along with the raised floor. Rejected klines
// are logged.
func (e *Engine) accept(candles []shared.Candle, floor int64, hasFloor bool) ([]shared.Candle, int64, bool) {
	boundary := floor
	accepted := make([]shared.Candle, 0, len(candles))
	var dropped []shared.Candle
	for idx := range candles {
		if hasFloor && candles[idx].OpenTime <= floor {
			dropped = append(dropped, candles[idx])
			continue
		}

		accepted = append(accepted, candles[idx])
		floor = candles[idx].OpenTime
		hasFloor = true
	}

	if len(dropped) > 0 {
		e.cfg.Logger.Warn().Msgf("dropped %d klines at or before open time %s "+
			"or out of order", len(dropped), shared.FormatUTC(boundary))
		e.cfg.Logger.Debug().Msgf("dropped klines: %s", spew.Sdump(dropped))
	}

	return accepted, floor, hasFloor
}

// commit appends the provided klines and advances the watermark to the newest
// of them.
func (e *Engine) commit(candles []shared.Candle) (int64, error) {
	err := e.cfg.Store.Append(candles)
	if err != nil {
		return 0, fmt.Errorf("appending klines: %w", err)
	}

	newest := candles[len(candles)-1].OpenTime
	err = e.cfg.Store.WriteWatermark(newest)
	if err != nil {
		return 0, fmt.Errorf("writing watermark: %w", err)
	}

	return newest, nil
}

// backfill populates the dataset with the closed klines of the lookback
// window, page by page.
func (e *Engine) backfill(ctx context.Context, summary *Summary) error {
	now := e.nowMs()
	cursor := now - e.cfg.Lookback.Milliseconds()

	floor, hasFloor, err := e.cfg.Store.LastOpenTime()
	if err != nil {
		return fmt.Errorf("reading last stored open time: %w", err)
	}

	limit := rate.Inf
	if e.cfg.PageDelay > 0 {
		limit = rate.Every(e.cfg.PageDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	e.cfg.Logger.Info().Msgf("backfilling from %s", shared.FormatUTC(cursor))

	for {
		err := limiter.Wait(ctx)
		if err != nil {
			return fmt.Errorf("pausing between pages: %w", err)
		}

		page, err := e.cfg.Source.FetchKlines(ctx, shared.KlineQuery{
			StartTime: cursor,
			Limit:     e.cfg.PageSize,
		})
		if err != nil {
			return fmt.Errorf("fetching backfill page %d: %w", summary.BackfillPages+1, err)
		}
		if len(page) == 0 {
			e.cfg.Logger.Info().Msgf("backfill exhausted at %s", shared.FormatUTC(cursor))
			return nil
		}
		summary.BackfillPages++

		var accepted []shared.Candle
		accepted, floor, hasFloor = e.accept(fetch.FilterClosed(page, now), floor, hasFloor)
		if len(accepted) > 0 {
			newest, err := e.commit(accepted)
			if err != nil {
				return err
			}
			summary.BackfillRows += len(accepted)
			summary.Watermark, summary.HasWatermark = newest, true
		}

		last := page[len(page)-1].OpenTime
		if last <= cursor {
			e.cfg.Logger.Warn().Msgf("backfill page ending at %s made no progress past cursor %s",
				shared.FormatUTC(last), shared.FormatUTC(cursor))
			return nil
		}

		cursor = last + 1
		if cursor >= now {
			return nil
		}
	}
}

// incremental appends the closed klines newer than the watermark from a
// single page.
func (e *Engine) incremental(ctx context.Context, summary *Summary) error {
	now := e.nowMs()

	watermark, hasWatermark, err := e.cfg.Store.ReadWatermark()
	if err != nil {
		return fmt.Errorf("reading watermark: %w", err)
	}

	query := shared.KlineQuery{Limit: e.cfg.PageSize}
	if hasWatermark {
		query.StartTime = watermark + 1
	}

	// Rows can be stored past the watermark when a watermark write failed
	// after its append, so the floor is the newer of the two.
	floor, hasFloor, err := e.cfg.Store.LastOpenTime()
	if err != nil {
		return fmt.Errorf("reading last stored open time: %w", err)
	}
	if hasWatermark && (!hasFloor || watermark > floor) {
		floor, hasFloor = watermark, true
	}

	page, err := e.cfg.Source.FetchKlines(ctx, query)
	if err != nil {
		return fmt.Errorf("fetching incremental page: %w", err)
	}
	summary.PageFull = len(page) >= e.cfg.PageSize

	accepted, _, _ := e.accept(fetch.FilterClosed(page, now), floor, hasFloor)
	if len(accepted) == 0 {
		e.cfg.Logger.Info().Msg("no new closed klines")
		return nil
	}

	newest, err := e.commit(accepted)
	if err != nil {
		return err
	}
	summary.IncrementalRows = len(accepted)
	summary.Watermark, summary.HasWatermark = newest, true

	if summary.PageFull {
		e.cfg.Logger.Warn().Msgf("incremental page was full, more klines are likely pending")
	}

	return nil
}

// Run performs a sync run: a backfill when the watermark is absent or the
// dataset holds no klines, followed by an incremental catch-up. Appended rows
// are never rolled back when a later step fails.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	watermark, hasWatermark, err := e.cfg.Store.ReadWatermark()
	if err != nil {
		return summary, fmt.Errorf("reading watermark: %w", err)
	}
	summary.Watermark, summary.HasWatermark = watermark, hasWatermark

	empty, err := e.cfg.Store.IsEmptyOrMissing()
	if err != nil {
		return summary, fmt.Errorf("inspecting dataset: %w", err)
	}

	if !hasWatermark || empty {
		summary.BackfillRan = true
		err = e.backfill(ctx, summary)
		if err != nil {
			return summary, err
		}
	}

	err = e.incremental(ctx, summary)
	if err != nil {
		return summary, err
	}

	return summary, nil
}
