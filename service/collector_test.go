package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dnldd/klinesync/config"
	"github.com/dnldd/klinesync/database"
	"github.com/dnldd/klinesync/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const origin = int64(1700000000000)

// fixedClock always reports the same time.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

// memLedger records runs in memory.
type memLedger struct {
	mtx  sync.Mutex
	runs []database.RunRecord
	err  error
}

func (l *memLedger) RecordRun(ctx context.Context, run *database.RunRecord) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.runs = append(l.runs, *run)
	return l.err
}

func (l *memLedger) last() database.RunRecord {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.runs[len(l.runs)-1]
}

// klineHandler serves the same two closed klines for every query, or the
// provided status when it is not ok.
func klineHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests."}`)
			return
		}

		rows := make([]string, 0, 2)
		for _, ot := range []int64{origin, origin + 300000} {
			rows = append(rows, fmt.Sprintf(`[%d,"2000.10000000","2010.00000000","1995.50000000",`+
				`"2001.25000000","123.45600000",%d,"246912.00000000",42,"60.00000000","120000.00000000","0"]`,
				ot, ot+299999))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "["+strings.Join(rows, ",")+"]")
	}
}

func setupCollector(t *testing.T, baseURL string, fs afero.Fs, ledger database.RunRecorder) *Collector {
	t.Helper()

	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.PageDelay = 0

	logger := zerolog.New(nil)
	collector, err := NewCollector(context.Background(), &CollectorConfig{
		Config: cfg,
		Fs:     fs,
		Clock:  fixedClock{now: time.UnixMilli(origin + 3600000).UTC()},
		Ledger: ledger,
		Logger: &logger,
	})
	assert.NoError(t, err)

	return collector
}

func TestCollector(t *testing.T) {
	ts := httptest.NewServer(klineHandler(http.StatusOK))
	defer ts.Close()

	fs := afero.NewMemMapFs()
	ledger := &memLedger{}
	collector := setupCollector(t, ts.URL, fs, ledger)

	// Ensure a cold start run populates the dataset and records the run.
	summary, err := collector.Run(context.Background())
	assert.NoError(t, err)
	assert.True(t, summary.BackfillRan)
	assert.Equal(t, summary.Appended(), 2)
	assert.Equal(t, summary.Watermark, origin+300000)

	run := ledger.last()
	assert.Equal(t, run.Status, database.Succeeded)
	assert.Equal(t, run.Symbol, "ETHUSDT")
	assert.Equal(t, run.Interval, "5m")
	assert.Equal(t, run.BackfillRows, 2)
	assert.Equal(t, run.Watermark, origin+300000)
	assert.Equal(t, len(run.ID), 36)

	b, err := afero.ReadFile(fs, "state/last_open_time_ETHUSDT_5m.txt")
	assert.NoError(t, err)
	assert.Equal(t, string(b), "2023-11-14 22:18:20 UTC")

	exists, err := afero.Exists(fs, "data/ETHUSDT_5m.csv")
	assert.NoError(t, err)
	assert.True(t, exists)

	// Ensure a repeat run appends nothing and gets its own run id.
	summary, err = collector.Run(context.Background())
	assert.NoError(t, err)
	assert.False(t, summary.BackfillRan)
	assert.Equal(t, summary.Appended(), 0)
	assert.True(t, ledger.last().ID != run.ID)

	// Ensure ledger failures do not fail the run.
	ledger.err = errors.New("ledger unavailable")
	_, err = collector.Run(context.Background())
	assert.NoError(t, err)
}

func TestCollectorTransportFailure(t *testing.T) {
	ts := httptest.NewServer(klineHandler(http.StatusTooManyRequests))
	defer ts.Close()

	ledger := &memLedger{}
	collector := setupCollector(t, ts.URL, afero.NewMemMapFs(), ledger)

	// Ensure transport failures fail the run and are recorded.
	_, err := collector.Run(context.Background())
	var transportErr *shared.TransportError
	assert.True(t, errors.As(err, &transportErr))
	assert.Equal(t, transportErr.Status, http.StatusTooManyRequests)

	run := ledger.last()
	assert.Equal(t, run.Status, database.Failed)
	assert.True(t, strings.Contains(run.Error, "Too many requests."))
}

func TestNewCollector(t *testing.T) {
	logger := zerolog.New(nil)

	// Ensure the collector cannot be created with invalid config.
	_, err := NewCollector(context.Background(), &CollectorConfig{})
	assert.Error(t, err)

	// Ensure an invalid source config is rejected.
	cfg := config.Default()
	cfg.Symbol = ""
	_, err = NewCollector(context.Background(), &CollectorConfig{Config: cfg, Logger: &logger})
	assert.Error(t, err)

	// Ensure the binance source can be selected.
	cfg = config.Default()
	cfg.Source = config.SourceBinance
	collector, err := NewCollector(context.Background(), &CollectorConfig{
		Config: cfg,
		Fs:     afero.NewMemMapFs(),
		Logger: &logger,
	})
	assert.NoError(t, err)
	assert.NotNil(t, collector.source)
	assert.Nil(t, collector.ledger)

	// Ensure an unreachable ledger does not prevent collecting.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := ts.URL
	ts.Close()

	cfg = config.Default()
	cfg.LedgerEndpoint = endpoint
	collector, err = NewCollector(context.Background(), &CollectorConfig{
		Config: cfg,
		Fs:     afero.NewMemMapFs(),
		Logger: &logger,
	})
	assert.NoError(t, err)
	assert.Nil(t, collector.ledger)
}
