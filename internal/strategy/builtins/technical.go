package builtins

import (
	"fmt"

	"cryptobot/internal/domain"
	"cryptobot/internal/indicator"
	"cryptobot/internal/strategy"
)

const (
	paramRSIPeriod  = "rsi-period"
	paramRSILow     = "rsi-low"
	paramRSIHigh    = "rsi-high"
	paramBBPeriod   = "bb-period"
	paramBBWidth    = "bb-width"
	paramMinHistory = "min-history"

	defaultRSIPeriod           = 14
	defaultRSILow              = 30
	defaultRSIHigh             = 70
	defaultBBPeriod            = 20
	defaultBBWidth             = 2
	defaultTechnicalMinHistory = 50

	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// Compile-time interface check.
var _ strategy.Strategy = (*Technical)(nil)

// TechnicalConfig holds the tunables of the Technical strategy.
type TechnicalConfig struct {
	RSIPeriod  int
	RSILow     float64
	RSIHigh    float64
	BBPeriod   int
	BBWidth    float64
	MinHistory int
}

// DefaultTechnicalConfig returns RSI(14) 30/70, Bollinger(20, 2) and a 50
// candle warm-up.
func DefaultTechnicalConfig() TechnicalConfig {
	return TechnicalConfig{
		RSIPeriod:  defaultRSIPeriod,
		RSILow:     defaultRSILow,
		RSIHigh:    defaultRSIHigh,
		BBPeriod:   defaultBBPeriod,
		BBWidth:    defaultBBWidth,
		MinHistory: defaultTechnicalMinHistory,
	}
}

// Technical buys an oversold close below the lower Bollinger band while the
// MACD histogram is positive, and sells the mirror condition.
type Technical struct {
	cfg TechnicalConfig
}

// NewTechnical validates cfg and creates the strategy.
func NewTechnical(cfg TechnicalConfig) (*Technical, error) {
	switch {
	case cfg.RSIPeriod < 1, cfg.BBPeriod < 1:
		return nil, fmt.Errorf("%w: indicator periods must be >= 1", domain.ErrInvalidConfiguration)
	case cfg.RSILow <= 0 || cfg.RSIHigh >= 100 || cfg.RSILow >= cfg.RSIHigh:
		return nil, fmt.Errorf("%w: rsi thresholds %v/%v", domain.ErrInvalidConfiguration, cfg.RSILow, cfg.RSIHigh)
	case cfg.BBWidth <= 0:
		return nil, fmt.Errorf("%w: %s must be positive", domain.ErrInvalidConfiguration, paramBBWidth)
	}
	// The warm-up must cover every indicator, the current close included.
	need := max(cfg.RSIPeriod, cfg.BBPeriod-1, macdSlow-1)
	if cfg.MinHistory < need {
		return nil, fmt.Errorf("%w: %s %d is below the %d candles the indicators need",
			domain.ErrInvalidConfiguration, paramMinHistory, cfg.MinHistory, need)
	}
	return &Technical{cfg: cfg}, nil
}

func newTechnicalFromParams(p strategy.Params) (*Technical, error) {
	if err := p.Check(paramRSIPeriod, paramRSILow, paramRSIHigh, paramBBPeriod, paramBBWidth, paramMinHistory); err != nil {
		return nil, err
	}
	cfg := DefaultTechnicalConfig()
	var err error
	if cfg.RSIPeriod, err = p.Period(paramRSIPeriod, cfg.RSIPeriod); err != nil {
		return nil, err
	}
	if cfg.BBPeriod, err = p.Period(paramBBPeriod, cfg.BBPeriod); err != nil {
		return nil, err
	}
	if cfg.MinHistory, err = p.Period(paramMinHistory, cfg.MinHistory); err != nil {
		return nil, err
	}
	cfg.RSILow = p.Float(paramRSILow, cfg.RSILow)
	cfg.RSIHigh = p.Float(paramRSIHigh, cfg.RSIHigh)
	cfg.BBWidth = p.Float(paramBBWidth, cfg.BBWidth)
	return NewTechnical(cfg)
}

// Name returns "technical".
func (t *Technical) Name() string { return "technical" }

// MinHistory returns the configured warm-up.
func (t *Technical) MinHistory() int { return t.cfg.MinHistory }

// GenerateSignal evaluates RSI, MACD and Bollinger bands over the history
// closes followed by the current close.
func (t *Technical) GenerateSignal(history []domain.Candle, current domain.Candle) domain.Signal {
	if len(history) < t.cfg.MinHistory {
		return domain.SignalHold
	}
	prices := append(indicator.Closes(history), current.Close)

	rsi, err := indicator.RSI(prices, t.cfg.RSIPeriod)
	if err != nil {
		return domain.SignalHold
	}
	macd, err := indicator.MACD(prices, macdFast, macdSlow, macdSignal)
	if err != nil {
		return domain.SignalHold
	}
	bands, err := indicator.Bollinger(prices, t.cfg.BBPeriod, t.cfg.BBWidth)
	if err != nil {
		return domain.SignalHold
	}

	switch {
	case rsi < t.cfg.RSILow && current.Close < bands.Lower && macd.Histogram > 0:
		return domain.SignalBuy
	case rsi > t.cfg.RSIHigh && current.Close > bands.Upper && macd.Histogram < 0:
		return domain.SignalSell
	default:
		return domain.SignalHold
	}
}
