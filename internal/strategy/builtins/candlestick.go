package builtins

import (
	"fmt"
	"math"

	"cryptobot/internal/domain"
	"cryptobot/internal/strategy"
)

const (
	paramMinStrength   = "min-strength"
	defaultMinStrength = 70
)

// Pattern is a recognised candlestick formation.
type Pattern struct {
	Name     string
	Signal   domain.Signal
	Strength float64
}

// Compile-time interface check.
var _ strategy.Strategy = (*Candlestick)(nil)

// Candlestick acts on single, two and three candle reversal patterns whose
// strength exceeds a threshold.
type Candlestick struct {
	minStrength float64
}

// NewCandlestick creates the strategy. minStrength is on a 0-100 scale.
func NewCandlestick(minStrength float64) (*Candlestick, error) {
	if minStrength < 0 || minStrength > 100 {
		return nil, fmt.Errorf("%w: %s must be within [0,100], got %v", domain.ErrInvalidConfiguration, paramMinStrength, minStrength)
	}
	return &Candlestick{minStrength: minStrength}, nil
}

func newCandlestickFromParams(p strategy.Params) (*Candlestick, error) {
	if err := p.Check(paramMinStrength); err != nil {
		return nil, err
	}
	return NewCandlestick(p.Float(paramMinStrength, defaultMinStrength))
}

// Name returns "candlestick".
func (c *Candlestick) Name() string { return "candlestick" }

// MinHistory returns 1; engulfing needs the previous candle.
func (c *Candlestick) MinHistory() int { return 1 }

// GenerateSignal implements strategy.Strategy.
func (c *Candlestick) GenerateSignal(history []domain.Candle, current domain.Candle) domain.Signal {
	if len(history) < 1 {
		return domain.SignalHold
	}
	p := DetectPattern(history, current)
	if p.Signal == domain.SignalHold || p.Strength <= c.minStrength {
		return domain.SignalHold
	}
	return p.Signal
}

// DetectPattern classifies current against the tail of history. A doji
// short-circuits to hold; otherwise the first matching formation wins.
func DetectPattern(history []domain.Candle, current domain.Candle) Pattern {
	body := math.Abs(current.Close - current.Open)
	upperWick := current.High - math.Max(current.Open, current.Close)
	lowerWick := math.Min(current.Open, current.Close) - current.Low
	totalRange := current.High - current.Low

	if totalRange <= 0 || body/totalRange < 0.1 {
		return Pattern{Name: "doji", Signal: domain.SignalHold, Strength: 50}
	}
	if lowerWick > body*2 && upperWick < body*0.5 {
		return Pattern{Name: "hammer", Signal: domain.SignalBuy, Strength: 75}
	}
	if upperWick > body*2 && lowerWick < body*0.5 {
		return Pattern{Name: "shooting star", Signal: domain.SignalSell, Strength: 75}
	}

	if len(history) > 0 {
		prev := history[len(history)-1]
		if current.Close > current.Open && prev.Close < prev.Open &&
			current.Open < prev.Close && current.Close > prev.Open {
			return Pattern{Name: "bullish engulfing", Signal: domain.SignalBuy, Strength: 85}
		}
		if current.Close < current.Open && prev.Close > prev.Open &&
			current.Open > prev.Close && current.Close < prev.Open {
			return Pattern{Name: "bearish engulfing", Signal: domain.SignalSell, Strength: 85}
		}
	}

	if len(history) >= 2 {
		a, b := history[len(history)-2], history[len(history)-1]
		if a.Close > a.Open && b.Close > b.Open && current.Close > current.Open &&
			b.Close > a.Close && current.Close > b.Close {
			return Pattern{Name: "three white soldiers", Signal: domain.SignalBuy, Strength: 90}
		}
		if a.Close < a.Open && b.Close < b.Open && current.Close < current.Open &&
			b.Close < a.Close && current.Close < b.Close {
			return Pattern{Name: "three black crows", Signal: domain.SignalSell, Strength: 90}
		}
	}

	return Pattern{Name: "none", Signal: domain.SignalHold}
}
