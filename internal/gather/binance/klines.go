// Package binance gathers Binance spot klines into the parquet candle store.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cryptobot/internal/domain"
	"cryptobot/internal/gather"
	"cryptobot/internal/marketdata"
	"cryptobot/internal/store"
)

// Compile-time interface check.
var _ gather.Gatherer = (*KlineGatherer)(nil)

// KlineGatherer backfills klines for a fixed symbol list and timeframe. Each
// symbol resumes from the newest candle already stored, so repeated runs only
// fetch what is missing.
type KlineGatherer struct {
	source     marketdata.Source
	store      store.CandleStore
	symbols    []string
	timeframe  domain.Timeframe
	start      time.Time
	maxWorkers int
	window     int
	now        func() time.Time
	log        *slog.Logger
}

// NewKlineGatherer creates a KlineGatherer. startDate (YYYY-MM-DD) bounds the
// backfill for symbols with no stored candles.
func NewKlineGatherer(src marketdata.Source, cs store.CandleStore, symbols []string, timeframe, startDate string, maxWorkers int) (*KlineGatherer, error) {
	tf, err := domain.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil, fmt.Errorf("parsing start date %q: %w", startDate, err)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols to gather", domain.ErrInvalidConfiguration)
	}
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = domain.NormalizeSymbol(s); s != "" {
			normalized = append(normalized, s)
		}
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	return &KlineGatherer{
		source:     src,
		store:      cs,
		symbols:    normalized,
		timeframe:  tf,
		start:      start.UTC(),
		maxWorkers: maxWorkers,
		window:     marketdata.KlinesPageLimit,
		now:        time.Now,
		log:        slog.Default().With("gatherer", "binance-klines-"+string(tf)),
	}, nil
}

// Name returns the gatherer identifier.
func (g *KlineGatherer) Name() string { return "binance-klines-" + string(g.timeframe) }

// lastClosed returns the open time of the newest fully closed candle.
func (g *KlineGatherer) lastClosed() time.Time {
	step := g.timeframe.Duration()
	return g.now().UTC().Truncate(step).Add(-step)
}

// pending returns the range still missing for symbol.
func (g *KlineGatherer) pending(ctx context.Context, symbol string) (gather.DateRange, error) {
	r := gather.DateRange{Start: g.start, End: g.lastClosed()}
	latest, ok, err := g.store.LatestTimestamp(ctx, symbol, g.timeframe)
	if err != nil {
		return r, fmt.Errorf("reading latest %s candle: %w", symbol, err)
	}
	if ok && !latest.Before(r.Start) {
		r.Start = latest.Add(g.timeframe.Duration())
	}
	return r, nil
}

// Run fetches the missing klines of every symbol in windows of at most one
// API page and writes each window to the store as it arrives. Failed
// symbols are logged and reported together once all workers finish.
func (g *KlineGatherer) Run(ctx context.Context) error {
	jobs := make(chan string, len(g.symbols))
	for _, s := range g.symbols {
		jobs <- s
	}
	close(jobs)

	var (
		wg       sync.WaitGroup
		written  atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)

	g.log.Info("starting",
		"symbols", len(g.symbols),
		"start", g.start.Format("2006-01-02"),
		"end", g.lastClosed().Format(time.RFC3339),
	)

	workers := min(g.maxWorkers, len(g.symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				if ctx.Err() != nil {
					return
				}
				n, err := g.gatherSymbol(ctx, symbol)
				written.Add(int64(n))
				if err != nil {
					failed.Add(1)
					g.log.Error("symbol failed", "symbol", symbol, "err", err)
				}
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	g.log.Info("complete",
		"candles", written.Load(),
		"failed", failed.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d symbols failed", n, len(g.symbols))
	}
	return nil
}

func (g *KlineGatherer) gatherSymbol(ctx context.Context, symbol string) (int, error) {
	r, err := g.pending(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if r.Empty() {
		g.log.Debug("up to date", "symbol", symbol)
		return 0, nil
	}

	windows := r.Windows(g.timeframe.Duration(), g.window)
	total := 0
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		candles, err := g.source.LoadCandles(ctx, symbol, g.timeframe, w.Start, w.End)
		if err != nil {
			return total, err
		}
		if len(candles) == 0 {
			continue
		}
		if err := g.store.WriteCandles(ctx, g.timeframe, candles); err != nil {
			return total, fmt.Errorf("writing %s candles: %w", symbol, err)
		}
		total += len(candles)

		g.log.Info("batch done",
			"symbol", symbol,
			"batch", fmt.Sprintf("%d/%d", i+1, len(windows)),
			"candles", len(candles),
			"through", candles[len(candles)-1].Timestamp.Format(time.RFC3339),
		)
	}
	return total, nil
}
