package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cryptobot/internal/domain"
)

// Request describes the candles a backtest needs.
type Request struct {
	Symbol    string
	Timeframe domain.Timeframe
	Start     time.Time
	End       time.Time
	// MinCandles is the shortest acceptable dataset.
	MinCandles int
	// AllowSynthetic permits a generated dataset when the primary source
	// fails. The result is then flagged as synthetic.
	AllowSynthetic bool
}

// Dataset is a loaded candle sequence tagged with its provenance.
type Dataset struct {
	Kind    domain.DataKind
	Candles []domain.Candle
	// Cause is the primary-source failure that triggered a synthetic
	// fallback.
	Cause error
}

// Synthetic reports whether the candles were generated.
func (d *Dataset) Synthetic() bool { return d.Kind == domain.DataSynthetic }

// Loader applies the fallback policy on top of a primary Source.
type Loader struct {
	primary   Source
	synthetic Source
	log       *slog.Logger
}

// NewLoader creates a Loader. synthetic may be nil, in which case fallback
// is never possible.
func NewLoader(primary, synthetic Source) *Loader {
	return &Loader{
		primary:   primary,
		synthetic: synthetic,
		log:       slog.Default().With("component", "loader"),
	}
}

// Load returns real candles from the primary source. When that fails, or
// yields fewer than MinCandles, it returns a *DataSourceError unless the
// request opts into synthetic data. Context errors are returned unchanged.
func (l *Loader) Load(ctx context.Context, req Request) (*Dataset, error) {
	symbol := domain.NormalizeSymbol(req.Symbol)

	var (
		candles []domain.Candle
		err     error
	)
	if l.primary == nil {
		err = errors.New("no market data source configured")
	} else {
		candles, err = l.primary.LoadCandles(ctx, symbol, req.Timeframe, req.Start, req.End)
	}
	if err == nil && len(candles) < req.MinCandles {
		err = fmt.Errorf("got %d candles, need %d: %w", len(candles), req.MinCandles, domain.ErrInsufficientHistory)
	}
	if err == nil {
		return &Dataset{Kind: domain.DataReal, Candles: candles}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var dsErr *DataSourceError
	if !errors.As(err, &dsErr) {
		dsErr = &DataSourceError{Symbol: symbol, Timeframe: req.Timeframe, Err: err}
	}
	if !req.AllowSynthetic || l.synthetic == nil {
		return nil, dsErr
	}

	l.log.Warn("primary source failed, using synthetic candles",
		"symbol", symbol,
		"timeframe", string(req.Timeframe),
		"error", err,
	)
	candles, synErr := l.synthetic.LoadCandles(ctx, symbol, req.Timeframe, req.Start, req.End)
	if synErr != nil {
		return nil, &DataSourceError{Symbol: symbol, Timeframe: req.Timeframe, Err: errors.Join(err, synErr)}
	}
	if len(candles) < req.MinCandles {
		return nil, &DataSourceError{Symbol: symbol, Timeframe: req.Timeframe,
			Err: fmt.Errorf("synthetic range has %d candles, need %d: %w", len(candles), req.MinCandles, domain.ErrInsufficientHistory)}
	}
	return &Dataset{Kind: domain.DataSynthetic, Candles: candles, Cause: dsErr}, nil
}
