package builtins

import (
	"fmt"

	"cryptobot/internal/domain"
	"cryptobot/internal/indicator"
	"cryptobot/internal/strategy"
)

const (
	paramGridSpacing   = "grid-spacing"
	paramPeriod        = "period"
	defaultGridSpacing = 0.01
	defaultGridPeriod  = 20
)

// Compile-time interface check.
var _ strategy.Strategy = (*Grid)(nil)

// Grid trades mean reversion around a simple moving average of the history
// window. A close more than two spacings below the average is a buy, more
// than two above is a sell.
type Grid struct {
	spacing float64
	period  int
}

// NewGrid creates a Grid strategy. spacing is a fraction (0.01 = 1%).
func NewGrid(spacing float64, period int) (*Grid, error) {
	if spacing <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive, got %v", domain.ErrInvalidConfiguration, paramGridSpacing, spacing)
	}
	if period < 1 {
		return nil, fmt.Errorf("%w: %s must be >= 1, got %d", domain.ErrInvalidConfiguration, paramPeriod, period)
	}
	return &Grid{spacing: spacing, period: period}, nil
}

func newGridFromParams(p strategy.Params) (*Grid, error) {
	if err := p.Check(paramGridSpacing, paramPeriod); err != nil {
		return nil, err
	}
	period, err := p.Period(paramPeriod, defaultGridPeriod)
	if err != nil {
		return nil, err
	}
	return NewGrid(p.Float(paramGridSpacing, defaultGridSpacing), period)
}

// Name returns "grid(<spacing>)".
func (g *Grid) Name() string { return fmt.Sprintf("grid(%g)", g.spacing) }

// MinHistory returns the moving-average period.
func (g *Grid) MinHistory() int { return g.period }

// GenerateSignal compares the current close with the history average.
func (g *Grid) GenerateSignal(history []domain.Candle, current domain.Candle) domain.Signal {
	if len(history) < g.period {
		return domain.SignalHold
	}
	sma, err := indicator.SMA(indicator.Closes(history[len(history)-g.period:]), g.period)
	if err != nil || sma == 0 {
		return domain.SignalHold
	}

	deviation := (current.Close - sma) / sma
	switch {
	case deviation < -2*g.spacing:
		return domain.SignalBuy
	case deviation > 2*g.spacing:
		return domain.SignalSell
	default:
		return domain.SignalHold
	}
}
