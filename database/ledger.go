package database

import (
	"context"
	"fmt"
	"net/http"
	"time"

	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createSyncRunTableSQL = "CREATE TABLE IF NOT EXISTS sync_run (id TEXT PRIMARY KEY, symbol TEXT, interval TEXT, status TEXT, backfill INTEGER, backfillpages INTEGER, backfillrows INTEGER, incrementalrows INTEGER, watermark INTEGER, error TEXT, startedon INTEGER, finishedon INTEGER)"
	persistSyncRunSQL     = "INSERT INTO sync_run(id, symbol, interval, status, backfill, backfillpages, backfillrows, incrementalrows, watermark, error, startedon, finishedon) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)"

	// clientTimeout is the timeout for ledger requests.
	clientTimeout = time.Second * 5
)

// RunStatus represents the outcome of a sync run.
type RunStatus string

const (
	// Succeeded denotes a run that completed.
	Succeeded RunStatus = "succeeded"
	// Failed denotes a run aborted by an error.
	Failed RunStatus = "failed"
)

// RunRecord represents a ledger entry for a single sync run.
type RunRecord struct {
	ID              string
	Symbol          string
	Interval        string
	Status          RunStatus
	BackfillRan     bool
	BackfillPages   int
	BackfillRows    int
	IncrementalRows int
	// Watermark is the watermark after the run, zero if there is none.
	Watermark  int64
	Error      string
	StartedOn  time.Time
	FinishedOn time.Time
}

// RunRecorder defines the requirements for recording sync runs.
type RunRecorder interface {
	// RecordRun stores the provided run record.
	RecordRun(ctx context.Context, run *RunRecord) error
}

// LedgerConfig is the configuration for the run ledger.
type LedgerConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Logger is the ledger logger.
	Logger *zerolog.Logger
}

// Ledger records sync runs to an rqlite database.
type Ledger struct {
	cfg    *LedgerConfig
	client *rqlitehttp.Client
}

// Ensure the ledger implements the RunRecorder interface.
var _ RunRecorder = (*Ledger)(nil)

// NewLedger initializes a new run ledger and bootstraps its table.
func NewLedger(ctx context.Context, cfg *LedgerConfig) (*Ledger, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint cannot be an empty string")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	httpc := &http.Client{Timeout: clientTimeout}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating ledger client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	ledger := &Ledger{
		cfg:    cfg,
		client: client,
	}

	err = ledger.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping ledger: %w", err)
	}

	return ledger, nil
}

// execute runs the provided statements in a transaction.
func (l *Ledger) execute(ctx context.Context, stmts rqlitehttp.SQLStatements) error {
	resp, err := l.client.Execute(ctx, stmts, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("statement %d: %s", idx, errStr)
	}

	return nil
}

// bootstrap initializes the ledger table.
func (l *Ledger) bootstrap(ctx context.Context) error {
	return l.execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createSyncRunTableSQL},
	})
}

// RecordRun stores the provided run record.
func (l *Ledger) RecordRun(ctx context.Context, run *RunRecord) error {
	var backfill int
	if run.BackfillRan {
		backfill = 1
	}

	err := l.execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistSyncRunSQL,
			PositionalParams: []any{run.ID, run.Symbol, run.Interval, string(run.Status), backfill,
				run.BackfillPages, run.BackfillRows, run.IncrementalRows, run.Watermark, run.Error,
				run.StartedOn.UnixMilli(), run.FinishedOn.UnixMilli()},
		},
	})
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}

	l.cfg.Logger.Debug().Msgf("recorded %s run %s", run.Status, run.ID)

	return nil
}
