package domain

import "time"

// StrategySpec selects a strategy variant and its numeric parameters.
type StrategySpec struct {
	Kind   string             `json:"kind" yaml:"kind"`
	Params map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
}

// SimulationSettings are the simulator parameters a run used beyond its
// balance and fee, defaults applied. Zero StopLoss or TakeProfit means the
// exit was disabled.
type SimulationSettings struct {
	PositionSizeFraction float64 `json:"positionSizeFraction"`
	HistoryWindow        int     `json:"historyWindow"`
	StopLoss             float64 `json:"stopLoss"`
	TakeProfit           float64 `json:"takeProfit"`
}

// BacktestRun is the persisted record of one completed backtest.
// MaxEquityDrawdown is the mark-to-market drawdown in percent, reported next
// to the cash drawdown in Metrics.
type BacktestRun struct {
	ID                string             `json:"id"`
	Symbol            string             `json:"symbol"`
	Timeframe         Timeframe          `json:"timeframe"`
	Strategy          StrategySpec       `json:"strategy"`
	Start             time.Time          `json:"start"`
	End               time.Time          `json:"end"`
	DataKind          DataKind           `json:"dataKind"`
	Synthetic         bool               `json:"synthetic"`
	CandleCount       int                `json:"candleCount"`
	InitialBalance    float64            `json:"initialBalance"`
	FinalBalance      float64            `json:"finalBalance"`
	FeeRate           float64            `json:"feeRate"`
	Settings          SimulationSettings `json:"settings"`
	Metrics           Metrics            `json:"metrics"`
	MaxEquityDrawdown float64            `json:"maxEquityDrawdown"`
	Signals           SignalCounts       `json:"signals"`
	Trades            []Trade            `json:"trades,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
}
