package marketdata

import (
	"context"
	"log/slog"
	"time"

	"cryptobot/internal/domain"
	"cryptobot/internal/store"
)

// Compile-time interface check.
var _ Source = (*CachedSource)(nil)

// CachedSource serves candles from a CandleStore when the requested range is
// fully stored and otherwise loads from upstream, writing the result back.
type CachedSource struct {
	upstream Source
	store    store.CandleStore
	log      *slog.Logger
}

// NewCachedSource wraps upstream with a read-through cache.
func NewCachedSource(upstream Source, cs store.CandleStore) *CachedSource {
	return &CachedSource{
		upstream: upstream,
		store:    cs,
		log:      slog.Default().With("source", "cache"),
	}
}

// LoadCandles implements Source.
func (c *CachedSource) LoadCandles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	cached, err := c.store.ReadCandles(ctx, symbol, tf, start, end)
	if err != nil {
		c.log.Warn("cache read failed", "symbol", symbol, "error", err)
	} else if covers(cached, tf, start, end) {
		c.log.Debug("cache hit", "symbol", symbol, "timeframe", string(tf), "candles", len(cached))
		return cached, nil
	}

	fresh, err := c.upstream.LoadCandles(ctx, symbol, tf, start, end)
	if err != nil {
		return nil, err
	}
	if err := c.store.WriteCandles(ctx, tf, fresh); err != nil {
		c.log.Warn("cache write failed", "symbol", symbol, "error", err)
	}
	return fresh, nil
}

// covers reports whether candles hold every step-aligned open time within
// [start, end].
func covers(candles []domain.Candle, tf domain.Timeframe, start, end time.Time) bool {
	step := tf.Duration()
	if step == 0 || len(candles) == 0 {
		return false
	}
	first := start.Truncate(step)
	if first.Before(start) {
		first = first.Add(step)
	}
	if first.After(end) {
		return false
	}
	want := int(end.Sub(first)/step) + 1
	return len(candles) >= want
}
