// Package marketdata loads historical candles from Binance, a local Parquet
// cache or a seeded random walk, and applies the synthetic fallback policy.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"cryptobot/internal/domain"
)

// Source loads candles for one symbol and timeframe within [start, end],
// oldest first.
type Source interface {
	LoadCandles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error)

// LoadCandles calls f.
func (f SourceFunc) LoadCandles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	return f(ctx, symbol, tf, start, end)
}

// DataSourceError reports that candles for a symbol could not be obtained.
type DataSourceError struct {
	Symbol    string
	Timeframe domain.Timeframe
	Err       error
}

func (e *DataSourceError) Error() string {
	return fmt.Sprintf("loading %s %s candles: %v", e.Symbol, e.Timeframe, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }
