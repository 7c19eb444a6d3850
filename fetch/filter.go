package fetch

import (
	"github.com/dnldd/klinesync/shared"
)

// FilterClosed returns the klines whose interval has fully elapsed at the
// provided time, preserving order. In-progress klines can still change upstream.
func FilterClosed(candles []shared.Candle, nowMs int64) []shared.Candle {
	closed := make([]shared.Candle, 0, len(candles))
	for idx := range candles {
		if candles[idx].IsClosed(nowMs) {
			closed = append(closed, candles[idx])
		}
	}

	return closed
}
