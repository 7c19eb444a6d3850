package shared

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout is the format layout for human readable utc timestamps.
	DateLayout = "2006-01-02 15:04:05 UTC"
)

// Timeframe represents a kline interval, e.g. "5m" or "1h".
type Timeframe string

const (
	OneMinute     Timeframe = "1m"
	ThreeMinute   Timeframe = "3m"
	FiveMinute    Timeframe = "5m"
	FifteenMinute Timeframe = "15m"
	ThirtyMinute  Timeframe = "30m"
	OneHour       Timeframe = "1h"
	TwoHour       Timeframe = "2h"
	FourHour      Timeframe = "4h"
	SixHour       Timeframe = "6h"
	EightHour     Timeframe = "8h"
	TwelveHour    Timeframe = "12h"
	OneDay        Timeframe = "1d"
	ThreeDay      Timeframe = "3d"
	OneWeek       Timeframe = "1w"
)

// timeframeDurations maps supported timeframes to their bucket lengths. Monthly
// klines are excluded since their length varies.
var timeframeDurations = map[Timeframe]time.Duration{
	OneMinute:     time.Minute,
	ThreeMinute:   time.Minute * 3,
	FiveMinute:    time.Minute * 5,
	FifteenMinute: time.Minute * 15,
	ThirtyMinute:  time.Minute * 30,
	OneHour:       time.Hour,
	TwoHour:       time.Hour * 2,
	FourHour:      time.Hour * 4,
	SixHour:       time.Hour * 6,
	EightHour:     time.Hour * 8,
	TwelveHour:    time.Hour * 12,
	OneDay:        time.Hour * 24,
	ThreeDay:      time.Hour * 72,
	OneWeek:       time.Hour * 24 * 7,
}

// ParseTimeframe parses the provided kline interval.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.TrimSpace(s))
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe provided: %q", s)
	}

	return tf, nil
}

// Duration returns the length of a kline bucket for the timeframe, zero if unknown.
func (t Timeframe) Duration() time.Duration {
	return timeframeDurations[t]
}

// String stringifies the provided timeframe.
func (t Timeframe) String() string {
	return string(t)
}

// FormatUTC renders the provided millisecond timestamp using the date layout.
func FormatUTC(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DateLayout)
}

// ParseUTC parses a timestamp rendered with the date layout into milliseconds.
// Text that does not render back identically, such as fractional seconds or
// unpadded fields, is rejected.
func ParseUTC(s string) (int64, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return 0, err
	}

	ms := t.UnixMilli()
	if FormatUTC(ms) != s {
		return 0, fmt.Errorf("timestamp %q is not of the form %q", s, DateLayout)
	}

	return ms, nil
}
