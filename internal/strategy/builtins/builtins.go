// Package builtins provides the strategy implementations that ship with
// cryptobot and the constructor that selects one from a StrategySpec.
package builtins

import (
	"fmt"

	"cryptobot/internal/domain"
	"cryptobot/internal/strategy"
)

// New builds a fresh strategy instance from spec. Unknown kinds, unknown
// parameter names and degenerate values fail with
// domain.ErrInvalidConfiguration.
func New(spec domain.StrategySpec) (strategy.Strategy, error) {
	kind, err := strategy.ParseKind(spec.Kind)
	if err != nil {
		return nil, err
	}
	p := strategy.Params(spec.Params)

	var s strategy.Strategy
	switch kind {
	case strategy.KindDCA:
		s, err = newDCAFromParams(p)
	case strategy.KindGrid:
		s, err = newGridFromParams(p)
	case strategy.KindTechnical:
		s, err = newTechnicalFromParams(p)
	case strategy.KindMomentum:
		s, err = newMomentumFromParams(p)
	case strategy.KindCandlestick:
		s, err = newCandlestickFromParams(p)
	}
	if err != nil {
		return nil, fmt.Errorf("%s strategy: %w", kind, err)
	}
	return s, nil
}

// Registry returns descriptors for every built-in kind.
func Registry() *strategy.Registry {
	r := strategy.NewRegistry()
	r.Register(strategy.Descriptor{
		Kind:        strategy.KindDCA,
		Description: "Buys at a fixed time interval and never sells; the position is closed at the end of the data.",
		Defaults:    map[string]float64{paramIntervalHours: defaultDCAIntervalHours},
	})
	r.Register(strategy.Descriptor{
		Kind:        strategy.KindGrid,
		Description: "Buys when price falls two grid spacings below its moving average and sells two spacings above.",
		Defaults:    map[string]float64{paramGridSpacing: defaultGridSpacing, paramPeriod: defaultGridPeriod},
	})
	r.Register(strategy.Descriptor{
		Kind:        strategy.KindTechnical,
		Description: "Combines RSI, MACD histogram and Bollinger bands; trades only when all three agree.",
		Defaults: map[string]float64{
			paramRSIPeriod: defaultRSIPeriod, paramRSILow: defaultRSILow, paramRSIHigh: defaultRSIHigh,
			paramBBPeriod: defaultBBPeriod, paramBBWidth: defaultBBWidth, paramMinHistory: defaultTechnicalMinHistory,
		},
	})
	r.Register(strategy.Descriptor{
		Kind:        strategy.KindMomentum,
		Description: "Enters strong uptrends confirmed by RSI, MACD and volume; exits at a stop loss or take profit.",
		Defaults: map[string]float64{
			paramTrendStrength: defaultTrendStrength, paramRSIThreshold: defaultMomentumRSI,
			paramVolumeRatio: defaultVolumeRatio, paramStopLoss: defaultStopLoss, paramTakeProfit: defaultTakeProfit,
		},
	})
	r.Register(strategy.Descriptor{
		Kind:        strategy.KindCandlestick,
		Description: "Trades hammer, shooting star, engulfing and three-candle patterns above a minimum strength.",
		Defaults:    map[string]float64{paramMinStrength: defaultMinStrength},
	})
	return r
}
