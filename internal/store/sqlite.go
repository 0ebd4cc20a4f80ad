package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"

	"cryptobot/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	timeframe       TEXT NOT NULL,
	strategy_kind   TEXT NOT NULL,
	strategy_params TEXT NOT NULL,
	start_ms        INTEGER NOT NULL,
	end_ms          INTEGER NOT NULL,
	data_kind       TEXT NOT NULL,
	candle_count    INTEGER NOT NULL,
	initial_balance REAL NOT NULL,
	final_balance   REAL NOT NULL,
	fee_rate        REAL NOT NULL,
	metrics         TEXT NOT NULL,
	created_ms      INTEGER NOT NULL,
	settings        TEXT NOT NULL DEFAULT '{}',
	equity_drawdown REAL NOT NULL DEFAULT 0,
	signals         TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs (created_ms DESC);

CREATE TABLE IF NOT EXISTS trades (
	run_id         TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq            INTEGER NOT NULL,
	entry_ms       INTEGER NOT NULL,
	exit_ms        INTEGER NOT NULL,
	entry_price    REAL NOT NULL,
	exit_price     REAL NOT NULL,
	quantity       REAL NOT NULL,
	side           TEXT NOT NULL,
	profit         REAL NOT NULL,
	profit_percent REAL NOT NULL,
	fees           REAL NOT NULL,
	exit_reason    TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// addedColumns are appended to runs in databases created before they
// existed.
var addedColumns = []struct{ name, ddl string }{
	{"settings", `ALTER TABLE runs ADD COLUMN settings TEXT NOT NULL DEFAULT '{}'`},
	{"equity_drawdown", `ALTER TABLE runs ADD COLUMN equity_drawdown REAL NOT NULL DEFAULT 0`},
	{"signals", `ALTER TABLE runs ADD COLUMN signals TEXT NOT NULL DEFAULT '{}'`},
}

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// Serialise writers; concurrent batch runs share one store.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	for _, col := range addedColumns {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('runs') WHERE name = ?`, col.name).Scan(&n)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if _, err := db.Exec(col.ddl); err != nil {
			return fmt.Errorf("adding column %s: %w", col.name, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts run and its trades in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.BacktestRun) error {
	if run.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("generating run id: %w", err)
		}
		run.ID = id.String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	params, err := json.Marshal(run.Strategy.Params)
	if err != nil {
		return fmt.Errorf("encoding strategy params: %w", err)
	}
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	signals, err := json.Marshal(run.Signals)
	if err != nil {
		return fmt.Errorf("encoding signal counts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, symbol, timeframe, strategy_kind, strategy_params, start_ms, end_ms, data_kind,
		 candle_count, initial_balance, final_balance, fee_rate, metrics, created_ms,
		 settings, equity_drawdown, signals)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, string(run.Timeframe), run.Strategy.Kind, string(params),
		run.Start.UnixMilli(), run.End.UnixMilli(), string(run.DataKind),
		run.CandleCount, run.InitialBalance, run.FinalBalance, run.FeeRate, string(metrics),
		run.CreatedAt.UnixMilli(), string(settings), run.MaxEquityDrawdown, string(signals),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
		(run_id, seq, entry_ms, exit_ms, entry_price, exit_price, quantity, side,
		 profit, profit_percent, fees, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range run.Trades {
		_, err := stmt.ExecContext(ctx, run.ID, i,
			t.EntryTime.UnixMilli(), t.ExitTime.UnixMilli(), t.EntryPrice, t.ExitPrice, t.Quantity,
			string(t.Side), t.Profit, t.ProfitPercent, t.Fees, string(t.ExitReason))
		if err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, symbol, timeframe, strategy_kind, strategy_params, start_ms, end_ms, data_kind,
	candle_count, initial_balance, final_balance, fee_rate, metrics, created_ms,
	settings, equity_drawdown, signals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.BacktestRun, error) {
	var (
		run                      domain.BacktestRun
		timeframe, dataKind      string
		params, metrics          string
		settings, signals        string
		startMs, endMs, createMs int64
	)
	err := row.Scan(&run.ID, &run.Symbol, &timeframe, &run.Strategy.Kind, &params,
		&startMs, &endMs, &dataKind, &run.CandleCount, &run.InitialBalance, &run.FinalBalance,
		&run.FeeRate, &metrics, &createMs, &settings, &run.MaxEquityDrawdown, &signals)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &run.Strategy.Params); err != nil {
		return nil, fmt.Errorf("decoding params of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &run.Metrics); err != nil {
		return nil, fmt.Errorf("decoding metrics of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(settings), &run.Settings); err != nil {
		return nil, fmt.Errorf("decoding settings of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(signals), &run.Signals); err != nil {
		return nil, fmt.Errorf("decoding signal counts of run %s: %w", run.ID, err)
	}
	run.Timeframe = domain.Timeframe(timeframe)
	run.DataKind = domain.DataKind(dataKind)
	run.Synthetic = run.DataKind == domain.DataSynthetic
	run.Start = time.UnixMilli(startMs).UTC()
	run.End = time.UnixMilli(endMs).UTC()
	run.CreatedAt = time.UnixMilli(createMs).UTC()
	return &run, nil
}

// GetRun retrieves a single run by its ID, trades included.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	run.Trades, err = s.ListTrades(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means 50.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.BacktestRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListTrades returns the trades of runID ordered by sequence.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry_ms, exit_ms, entry_price, exit_price, quantity,
		side, profit, profit_percent, fees, exit_reason
		FROM trades WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			t            domain.Trade
			entry, exit  int64
			side, reason string
		)
		if err := rows.Scan(&entry, &exit, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
			&side, &t.Profit, &t.ProfitPercent, &t.Fees, &reason); err != nil {
			return nil, err
		}
		t.EntryTime = time.UnixMilli(entry).UTC()
		t.ExitTime = time.UnixMilli(exit).UTC()
		t.Side = domain.Side(side)
		t.ExitReason = domain.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
