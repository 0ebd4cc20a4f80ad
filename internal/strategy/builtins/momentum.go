package builtins

import (
	"fmt"

	"cryptobot/internal/domain"
	"cryptobot/internal/indicator"
	"cryptobot/internal/strategy"
)

const (
	paramTrendStrength = "trend-strength"
	paramRSIThreshold  = "rsi-threshold"
	paramVolumeRatio   = "volume-ratio"
	paramStopLoss      = "stop-loss"
	paramTakeProfit    = "take-profit"

	defaultTrendStrength = 0.7
	defaultMomentumRSI   = 55
	defaultVolumeRatio   = 1.5
	defaultStopLoss      = 0.05
	defaultTakeProfit    = 0.15

	momentumWindow     = 20
	momentumRSIPeriod  = 14
	momentumMinHistory = macdSlow - 1
)

// Compile-time interface checks.
var (
	_ strategy.Strategy      = (*Momentum)(nil)
	_ strategy.PositionAware = (*Momentum)(nil)
)

// MomentumConfig holds the entry thresholds and exit distances of Momentum.
type MomentumConfig struct {
	TrendStrength float64
	RSIThreshold  float64
	VolumeRatio   float64
	StopLoss      float64
	TakeProfit    float64
}

// Momentum enters when most of the last 20 closes sit above their average,
// RSI is bullish, the MACD line is positive and volume spikes. While a
// position it opened is held it only watches its own stop loss and take
// profit. The position is learned from OnOpen and OnClose, so a buy that was
// never filled or an exit taken by the simulator leaves it flat.
type Momentum struct {
	cfg        MomentumConfig
	entryPrice float64
}

// NewMomentum validates cfg and creates the strategy.
func NewMomentum(cfg MomentumConfig) (*Momentum, error) {
	switch {
	case cfg.TrendStrength < 0 || cfg.TrendStrength > 1:
		return nil, fmt.Errorf("%w: %s must be within [0,1]", domain.ErrInvalidConfiguration, paramTrendStrength)
	case cfg.RSIThreshold <= 0 || cfg.RSIThreshold >= 100:
		return nil, fmt.Errorf("%w: %s must be within (0,100)", domain.ErrInvalidConfiguration, paramRSIThreshold)
	case cfg.VolumeRatio <= 0:
		return nil, fmt.Errorf("%w: %s must be positive", domain.ErrInvalidConfiguration, paramVolumeRatio)
	case cfg.StopLoss <= 0 || cfg.StopLoss >= 1:
		return nil, fmt.Errorf("%w: %s must be within (0,1)", domain.ErrInvalidConfiguration, paramStopLoss)
	case cfg.TakeProfit <= 0:
		return nil, fmt.Errorf("%w: %s must be positive", domain.ErrInvalidConfiguration, paramTakeProfit)
	}
	return &Momentum{cfg: cfg}, nil
}

func newMomentumFromParams(p strategy.Params) (*Momentum, error) {
	if err := p.Check(paramTrendStrength, paramRSIThreshold, paramVolumeRatio, paramStopLoss, paramTakeProfit); err != nil {
		return nil, err
	}
	return NewMomentum(MomentumConfig{
		TrendStrength: p.Float(paramTrendStrength, defaultTrendStrength),
		RSIThreshold:  p.Float(paramRSIThreshold, defaultMomentumRSI),
		VolumeRatio:   p.Float(paramVolumeRatio, defaultVolumeRatio),
		StopLoss:      p.Float(paramStopLoss, defaultStopLoss),
		TakeProfit:    p.Float(paramTakeProfit, defaultTakeProfit),
	})
}

// Name returns "momentum".
func (m *Momentum) Name() string { return "momentum" }

// MinHistory returns the slow MACD warm-up.
func (m *Momentum) MinHistory() int { return momentumMinHistory }

// GenerateSignal implements strategy.Strategy.
func (m *Momentum) GenerateSignal(history []domain.Candle, current domain.Candle) domain.Signal {
	if m.entryPrice > 0 {
		if current.Close <= m.entryPrice*(1-m.cfg.StopLoss) || current.Close >= m.entryPrice*(1+m.cfg.TakeProfit) {
			return domain.SignalSell
		}
		return domain.SignalHold
	}
	if len(history) < momentumMinHistory {
		return domain.SignalHold
	}

	prices := append(indicator.Closes(history), current.Close)
	volumes := append(indicator.Volumes(history), current.Volume)

	recent := prices[len(prices)-momentumWindow:]
	ma, _ := indicator.MeanStd(recent)
	above := 0
	for _, p := range recent {
		if p > ma {
			above++
		}
	}
	strength := float64(above) / momentumWindow

	rsi, err := indicator.RSI(prices, momentumRSIPeriod)
	if err != nil {
		return domain.SignalHold
	}
	macd, err := indicator.MACD(prices, macdFast, macdSlow, macdSignal)
	if err != nil {
		return domain.SignalHold
	}
	avgVolume, _ := indicator.MeanStd(volumes[len(volumes)-momentumWindow:])
	if avgVolume == 0 {
		return domain.SignalHold
	}
	volumeRatio := current.Volume / avgVolume

	if strength > m.cfg.TrendStrength && rsi > m.cfg.RSIThreshold && macd.MACD > 0 && volumeRatio > m.cfg.VolumeRatio {
		return domain.SignalBuy
	}
	return domain.SignalHold
}

// OnOpen records the fill price the exits are measured from.
func (m *Momentum) OnOpen(entryPrice float64) { m.entryPrice = entryPrice }

// OnClose forgets the entry.
func (m *Momentum) OnClose() { m.entryPrice = 0 }
