package shared

import (
	"strconv"
	"strings"
)

// WatermarkEncoding represents a persisted watermark encoding.
type WatermarkEncoding int

const (
	// LegacyMillis is a bare decimal millisecond timestamp, e.g. "1700000000000".
	LegacyMillis WatermarkEncoding = iota
	// UTCDateTime is a utc date time string, e.g. "2023-11-14 22:13:20 UTC".
	UTCDateTime
)

// String stringifies the provided watermark encoding.
func (e WatermarkEncoding) String() string {
	switch e {
	case LegacyMillis:
		return "legacy-millis"
	case UTCDateTime:
		return "utc-datetime"
	default:
		return "unknown"
	}
}

// Watermark represents the open time of the most recently accepted closed kline,
// tagged with the encoding it was read from.
type Watermark struct {
	OpenTime int64
	Encoding WatermarkEncoding
}

// isDigits returns whether s is a non-empty run of ascii digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for idx := 0; idx < len(s); idx++ {
		if s[idx] < '0' || s[idx] > '9' {
			return false
		}
	}

	return true
}

// DecodeWatermark decodes persisted watermark text. The legacy millisecond
// encoding is attempted first, then the utc date time encoding.
func DecodeWatermark(text string) (Watermark, error) {
	text = strings.TrimSpace(text)

	if isDigits(text) {
		ms, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			return Watermark{OpenTime: ms, Encoding: LegacyMillis}, nil
		}
	}

	ms, err := ParseUTC(text)
	if err == nil {
		return Watermark{OpenTime: ms, Encoding: UTCDateTime}, nil
	}

	return Watermark{}, &FormatError{Value: text}
}

// EncodeWatermark encodes the provided open time using the utc date time encoding.
func EncodeWatermark(ms int64) string {
	return FormatUTC(ms)
}
