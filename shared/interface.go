package shared

import (
	"context"
	"time"
)

// KlineQuery represents a request for a page of klines.
type KlineQuery struct {
	// StartTime is the inclusive lower open time bound in milliseconds. Zero
	// requests the most recent klines.
	StartTime int64
	// Limit is the maximum number of klines returned.
	Limit int
}

// KlineFetcher defines the requirements for fetching klines.
type KlineFetcher interface {
	// FetchKlines fetches a page of klines ordered by open time ascending. The
	// tail of the page may include an unclosed kline.
	FetchKlines(ctx context.Context, query KlineQuery) ([]Candle, error)
}

// KlineStorer defines the requirements for persisting klines and the watermark.
type KlineStorer interface {
	// IsEmptyOrMissing returns whether the dataset holds no data.
	IsEmptyOrMissing() (bool, error)
	// Append appends the provided klines to the dataset.
	Append(candles []Candle) error
	// ReadWatermark reads the persisted watermark, reporting whether one exists.
	ReadWatermark() (int64, bool, error)
	// WriteWatermark persists the provided watermark.
	WriteWatermark(openTime int64) error
	// LastOpenTime returns the open time of the last stored kline, reporting
	// whether one exists.
	LastOpenTime() (int64, bool, error)
}

// Clock defines the requirements for reading the current time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current utc time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
