package builtins

import (
	"fmt"
	"time"

	"cryptobot/internal/domain"
	"cryptobot/internal/strategy"
)

const (
	paramIntervalHours      = "interval-hours"
	defaultDCAIntervalHours = 24
)

// Compile-time interface check.
var _ strategy.Strategy = (*DCA)(nil)

// DCA buys on the first candle and then again whenever at least interval has
// passed since the previous buy signal. It never emits sell.
type DCA struct {
	interval    time.Duration
	lastBuyTime time.Time
	bought      bool
}

// NewDCA creates a DCA strategy buying every intervalHours hours.
func NewDCA(intervalHours float64) (*DCA, error) {
	if intervalHours <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive, got %v", domain.ErrInvalidConfiguration, paramIntervalHours, intervalHours)
	}
	return &DCA{interval: time.Duration(intervalHours * float64(time.Hour))}, nil
}

func newDCAFromParams(p strategy.Params) (*DCA, error) {
	if err := p.Check(paramIntervalHours); err != nil {
		return nil, err
	}
	return NewDCA(p.Float(paramIntervalHours, defaultDCAIntervalHours))
}

// Name returns "dca(<interval>)".
func (d *DCA) Name() string { return fmt.Sprintf("dca(%s)", d.interval) }

// MinHistory returns 0.
func (d *DCA) MinHistory() int { return 0 }

// GenerateSignal emits buy when the interval has elapsed since the last buy.
func (d *DCA) GenerateSignal(_ []domain.Candle, current domain.Candle) domain.Signal {
	if !d.bought || current.Timestamp.Sub(d.lastBuyTime) >= d.interval {
		d.lastBuyTime = current.Timestamp
		d.bought = true
		return domain.SignalBuy
	}
	return domain.SignalHold
}
