// Package store defines storage interfaces for market data and backtest
// results, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"cryptobot/internal/domain"
)

// CandleStore persists and retrieves OHLCV candles per timeframe.
type CandleStore interface {
	// WriteCandles merges candles into storage, replacing any stored candle
	// with the same symbol and timestamp.
	WriteCandles(ctx context.Context, tf domain.Timeframe, candles []domain.Candle) error

	// ReadCandles returns candles for symbol within [start, end], oldest
	// first.
	ReadCandles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error)

	// ListSymbols returns all symbols with candles stored at tf.
	ListSymbols(ctx context.Context, tf domain.Timeframe) ([]string, error)

	// LatestTimestamp returns the open time of the newest stored candle. The
	// boolean is false when nothing is stored.
	LatestTimestamp(ctx context.Context, symbol string, tf domain.Timeframe) (time.Time, bool, error)
}

// RunStore persists completed backtests and their trades.
type RunStore interface {
	// SaveRun inserts run and its trades. An empty ID is replaced by a new
	// UUID.
	SaveRun(ctx context.Context, run *domain.BacktestRun) error

	// GetRun retrieves a run with its trades, or domain.ErrNotFound.
	GetRun(ctx context.Context, id string) (*domain.BacktestRun, error)

	// ListRuns returns the most recent runs, newest first, without trades.
	ListRuns(ctx context.Context, limit int) ([]domain.BacktestRun, error)

	// ListTrades returns the trades of a run in the order they closed.
	ListTrades(ctx context.Context, runID string) ([]domain.Trade, error)
}
