package shared

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
)

func testCandle(t *testing.T) Candle {
	t.Helper()

	candle, err := NewCandle(1700000000000, "2000.10000000", "2010.00000000", "1995.50000000",
		"2001.25000000", "123.45600000", 1700000299999, "246912.00000000", 42,
		"60.00000000", "120000.00000000")
	assert.NoError(t, err)

	return candle
}

func TestCandleRow(t *testing.T) {
	candle := testCandle(t)

	// Ensure basic rows keep upstream decimal text untouched.
	want := []string{"1700000000000", "2000.10000000", "2010.00000000", "1995.50000000",
		"2001.25000000", "123.45600000", "1700000299999", "246912.00000000", "42",
		"60.00000000", "120000.00000000"}
	got := candle.Row(Basic)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected basic row (-want +got):\n%s", diff)
	}
	assert.Equal(t, len(got), len(Basic.Header()))

	// Ensure extended rows carry the utc open time after the raw open time.
	ext := candle.Row(Extended)
	assert.Equal(t, len(ext), len(Extended.Header()))
	assert.Equal(t, ext[0], "1700000000000")
	assert.Equal(t, ext[1], "2023-11-14 22:13:20 UTC")
	assert.Equal(t, ext[2], "2000.10000000")

	// Ensure rows parse back into the same candle for both layouts.
	for _, layout := range []Layout{Basic, Extended} {
		parsed, err := ParseRow(candle.Row(layout), layout)
		assert.NoError(t, err)
		if diff := cmp.Diff(candle.Row(Basic), parsed.Row(Basic)); diff != "" {
			t.Errorf("%s: unexpected parsed row (-want +got):\n%s", layout, diff)
		}
	}

	// Ensure rows with the wrong column count are rejected.
	_, err := ParseRow(candle.Row(Basic), Extended)
	assert.Error(t, err)
}

func TestCandleIsClosed(t *testing.T) {
	candle := testCandle(t)
	assert.True(t, candle.IsClosed(candle.CloseTime))
	assert.True(t, candle.IsClosed(candle.CloseTime+1))
	assert.False(t, candle.IsClosed(candle.CloseTime-1))
}

func TestNewCandleRejectsNonDecimalText(t *testing.T) {
	// Ensure non decimal fields are rejected.
	_, err := NewCandle(1, "abc", "1", "1", "1", "1", 2, "1", 1, "1", "1")
	assert.Error(t, err)
}

func TestLayouts(t *testing.T) {
	// Ensure the extended header inserts the utc column after the raw open time.
	header := Extended.Header()
	assert.Equal(t, header[0], "open_time_ms")
	assert.Equal(t, header[1], OpenTimeUTCColumn)
	assert.Equal(t, len(header), len(Basic.Header())+1)

	// Ensure layouts are detected from headers.
	assert.Equal(t, DetectLayout(Basic.Header()), Basic)
	assert.Equal(t, DetectLayout(Extended.Header()), Extended)

	// Ensure layouts can be parsed by name.
	layout, err := ParseLayout("extended")
	assert.NoError(t, err)
	assert.Equal(t, layout, Extended)
	_, err = ParseLayout("parquet")
	assert.Error(t, err)

	// Ensure the basic header is not shared with callers.
	h := Basic.Header()
	h[0] = "mutated"
	assert.Equal(t, Basic.Header()[0], "open_time_ms")
}
