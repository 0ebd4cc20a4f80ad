package cryptobot

import "time"

// StrategySpec selects a strategy kind and its parameters.
type StrategySpec struct {
	Kind   string             `json:"kind"`
	Params map[string]float64 `json:"params,omitempty"`
}

// BacktestRequest describes one backtest. Zero InitialBalance and a nil
// FeeRate take the server defaults.
type BacktestRequest struct {
	Symbol         string       `json:"symbol"`
	Timeframe      string       `json:"timeframe"`
	Start          time.Time    `json:"start"`
	End            time.Time    `json:"end"`
	Strategy       StrategySpec `json:"strategy"`
	InitialBalance float64      `json:"initialBalance,omitempty"`
	FeeRate        *float64     `json:"feeRate,omitempty"`
	StopLoss       float64      `json:"stopLoss,omitempty"`
	TakeProfit     float64      `json:"takeProfit,omitempty"`
	AllowSynthetic bool         `json:"allowSynthetic,omitempty"`
}

// Fee returns a pointer to rate, for BacktestRequest.FeeRate.
func Fee(rate float64) *float64 { return &rate }

// Trade is one closed position.
type Trade struct {
	EntryTime     time.Time `json:"entryTime"`
	ExitTime      time.Time `json:"exitTime"`
	EntryPrice    float64   `json:"entryPrice"`
	ExitPrice     float64   `json:"exitPrice"`
	Quantity      float64   `json:"quantity"`
	Side          string    `json:"side"`
	Profit        float64   `json:"profit"`
	ProfitPercent float64   `json:"profitPercent"`
	Fees          float64   `json:"fees"`
	ExitReason    string    `json:"exitReason"`
}

// Metrics are a run's summary statistics.
type Metrics struct {
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	TotalProfit   float64 `json:"totalProfit"`
	TotalLoss     float64 `json:"totalLoss"`
	NetProfit     float64 `json:"netProfit"`
	WinRate       float64 `json:"winRate"`
	ProfitFactor  float64 `json:"profitFactor"`
	MaxDrawdown   float64 `json:"maxDrawdown"`
	SharpeRatio   float64 `json:"sharpeRatio"`
}

// Settings are the simulator parameters a run used, defaults applied.
type Settings struct {
	PositionSizeFraction float64 `json:"positionSizeFraction"`
	HistoryWindow        int     `json:"historyWindow"`
	StopLoss             float64 `json:"stopLoss"`
	TakeProfit           float64 `json:"takeProfit"`
}

// SignalCounts tallies the signals the strategy emitted.
type SignalCounts struct {
	Buy  int `json:"buy"`
	Sell int `json:"sell"`
	Hold int `json:"hold"`
}

// Run is a completed backtest as stored by the server. MaxEquityDrawdown is
// the mark-to-market drawdown in percent; Metrics.MaxDrawdown is measured on
// the cash balance.
type Run struct {
	ID                string       `json:"id"`
	Symbol            string       `json:"symbol"`
	Timeframe         string       `json:"timeframe"`
	Strategy          StrategySpec `json:"strategy"`
	Start             time.Time    `json:"start"`
	End               time.Time    `json:"end"`
	DataKind          string       `json:"dataKind"`
	Synthetic         bool         `json:"synthetic"`
	CandleCount       int          `json:"candleCount"`
	InitialBalance    float64      `json:"initialBalance"`
	FinalBalance      float64      `json:"finalBalance"`
	FeeRate           float64      `json:"feeRate"`
	Settings          Settings     `json:"settings"`
	Metrics           Metrics      `json:"metrics"`
	MaxEquityDrawdown float64      `json:"maxEquityDrawdown"`
	Signals           SignalCounts `json:"signals"`
	Trades            []Trade      `json:"trades,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
}

// BatchResult is one entry of a batch response. Error is set when Run is
// nil.
type BatchResult struct {
	Index int    `json:"index"`
	Run   *Run   `json:"run,omitempty"`
	Error string `json:"error,omitempty"`
}

// Strategy describes an available strategy kind.
type Strategy struct {
	Kind        string             `json:"kind"`
	Description string             `json:"description"`
	Defaults    map[string]float64 `json:"defaults"`
}
