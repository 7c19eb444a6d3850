package shared

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Layout represents a dataset column layout.
type Layout int

const (
	// Basic is the original 11 column layout.
	Basic Layout = iota
	// Extended is the basic layout with a human readable open time column
	// inserted after the raw open time.
	Extended
)

const (
	// OpenTimeUTCColumn is the column name of the human readable open time.
	OpenTimeUTCColumn = "open_time_utc"
)

var basicHeader = []string{
	"open_time_ms",
	"open",
	"high",
	"low",
	"close",
	"volume",
	"close_time_ms",
	"quote_asset_volume",
	"num_trades",
	"taker_buy_base",
	"taker_buy_quote",
}

// String stringifies the provided layout.
func (l Layout) String() string {
	switch l {
	case Basic:
		return "basic"
	case Extended:
		return "extended"
	default:
		return "unknown"
	}
}

// ParseLayout parses the provided layout name.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "basic":
		return Basic, nil
	case "extended":
		return Extended, nil
	default:
		return Basic, fmt.Errorf("unknown dataset layout provided: %q", s)
	}
}

// Header returns the header row for the layout.
func (l Layout) Header() []string {
	if l == Extended {
		return InsertUTCColumn(basicHeader, OpenTimeUTCColumn)
	}

	header := make([]string, len(basicHeader))
	copy(header, basicHeader)
	return header
}

// DetectLayout determines the layout of a dataset from its header row.
func DetectLayout(header []string) Layout {
	for idx := range header {
		if header[idx] == OpenTimeUTCColumn {
			return Extended
		}
	}

	return Basic
}

// InsertUTCColumn returns a copy of the row with the provided value inserted
// immediately after the first column.
func InsertUTCColumn(row []string, value string) []string {
	out := make([]string, 0, len(row)+1)
	if len(row) == 0 {
		return append(out, value)
	}
	out = append(out, row[0], value)
	return append(out, row[1:]...)
}

// Candle represents a closed or in-progress kline for a trading pair.
type Candle struct {
	OpenTime         int64
	Open             decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Close            decimal.Decimal
	Volume           decimal.Decimal
	CloseTime        int64
	QuoteAssetVolume decimal.Decimal
	NumTrades        int64
	TakerBuyBase     decimal.Decimal
	TakerBuyQuote    decimal.Decimal
}

// IsClosed returns whether the candle's interval has fully elapsed at the
// provided time.
func (c *Candle) IsClosed(nowMs int64) bool {
	return c.CloseTime <= nowMs
}

// Row serializes the candle as a dataset row for the provided layout.
func (c *Candle) Row(layout Layout) []string {
	row := []string{
		strconv.FormatInt(c.OpenTime, 10),
		FormatDecimal(c.Open),
		FormatDecimal(c.High),
		FormatDecimal(c.Low),
		FormatDecimal(c.Close),
		FormatDecimal(c.Volume),
		strconv.FormatInt(c.CloseTime, 10),
		FormatDecimal(c.QuoteAssetVolume),
		strconv.FormatInt(c.NumTrades, 10),
		FormatDecimal(c.TakerBuyBase),
		FormatDecimal(c.TakerBuyQuote),
	}

	if layout == Extended {
		return InsertUTCColumn(row, FormatUTC(c.OpenTime))
	}

	return row
}

// FormatDecimal renders the provided decimal keeping the fractional digits it
// was parsed with, so "2000.10000000" round-trips unchanged.
func FormatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}

	return d.String()
}

// NewCandle creates a candle from the textual fields of a kline record, in
// upstream order.
func NewCandle(openTime int64, open, high, low, closePrice, volume string, closeTime int64,
	quoteAssetVolume string, numTrades int64, takerBuyBase, takerBuyQuote string) (Candle, error) {
	candle := Candle{
		OpenTime:  openTime,
		CloseTime: closeTime,
		NumTrades: numTrades,
	}

	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"open", open, &candle.Open},
		{"high", high, &candle.High},
		{"low", low, &candle.Low},
		{"close", closePrice, &candle.Close},
		{"volume", volume, &candle.Volume},
		{"quote_asset_volume", quoteAssetVolume, &candle.QuoteAssetVolume},
		{"taker_buy_base", takerBuyBase, &candle.TakerBuyBase},
		{"taker_buy_quote", takerBuyQuote, &candle.TakerBuyQuote},
	}

	for idx := range fields {
		d, err := decimal.NewFromString(fields[idx].value)
		if err != nil {
			return Candle{}, fmt.Errorf("parsing %s of kline opening at %d: %w",
				fields[idx].name, openTime, err)
		}
		*fields[idx].dst = d
	}

	return candle, nil
}

// ParseRow parses a dataset row written with the provided layout.
func ParseRow(row []string, layout Layout) (Candle, error) {
	want := len(basicHeader)
	if layout == Extended {
		want++
	}
	if len(row) != want {
		return Candle{}, fmt.Errorf("expected %d columns for %s layout, got %d",
			want, layout.String(), len(row))
	}

	if layout == Extended {
		row = append(row[:1:1], row[2:]...)
	}

	openTime, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parsing open time: %w", err)
	}
	closeTime, err := strconv.ParseInt(row[6], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parsing close time: %w", err)
	}
	numTrades, err := strconv.ParseInt(row[8], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parsing trade count: %w", err)
	}

	return NewCandle(openTime, row[1], row[2], row[3], row[4], row[5], closeTime,
		row[7], numTrades, row[9], row[10])
}
