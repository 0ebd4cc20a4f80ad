package marketdata

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"cryptobot/internal/domain"
)

const (
	defaultReferencePrice = 50000
	defaultVolatility     = 0.02
	defaultSyntheticSpan  = 30 * 24 * time.Hour
	maxSyntheticCandles   = 500_000
)

// Compile-time interface check.
var _ Source = (*SyntheticSource)(nil)

// SyntheticSource generates a seeded random walk. The same seed, range and
// timeframe always produce the same candles.
type SyntheticSource struct {
	ReferencePrice float64
	Volatility     float64
	Seed           uint64
}

// NewSyntheticSource returns a walk starting at 50000 with 2% volatility per
// step.
func NewSyntheticSource(seed uint64) *SyntheticSource {
	return &SyntheticSource{
		ReferencePrice: defaultReferencePrice,
		Volatility:     defaultVolatility,
		Seed:           seed,
	}
}

// LoadCandles generates one candle per timeframe step in [start, end). An
// empty range produces 30 days of candles ending at end.
func (s *SyntheticSource) LoadCandles(ctx context.Context, symbol string, tf domain.Timeframe, start, end time.Time) ([]domain.Candle, error) {
	step := tf.Duration()
	if step == 0 {
		return nil, fmt.Errorf("%w: unsupported timeframe %q", domain.ErrInvalidConfiguration, tf)
	}
	if !end.After(start) {
		start = end.Add(-defaultSyntheticSpan)
	}
	n := int(end.Sub(start) / step)
	if n > maxSyntheticCandles {
		return nil, fmt.Errorf("%w: %d synthetic candles requested, limit %d", domain.ErrInvalidConfiguration, n, maxSyntheticCandles)
	}

	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	symbol = domain.NormalizeSymbol(symbol)
	price := s.ReferencePrice
	candles := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		price *= 1 + (rng.Float64()-0.5)*s.Volatility
		closePrice := price * (1 + (rng.Float64()-0.5)*0.01)
		candles = append(candles, domain.Candle{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * step).UTC(),
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     closePrice,
			Volume:    100 + rng.Float64()*1000,
		})
	}
	return candles, nil
}
