// Package domain defines the core types shared across the backtesting
// platform: candles, signals, positions, trades and run records.
package domain

import (
	"strings"
	"time"
)

// Candle is one OHLCV bar. Sequences of candles are ordered by ascending
// Timestamp.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Signal is a strategy's per-candle decision. The zero value is SignalHold.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// SignalCounts tallies the signals a strategy emitted during a run,
// including those that caused no transition.
type SignalCounts struct {
	Buy  int `json:"buy"`
	Sell int `json:"sell"`
	Hold int `json:"hold"`
}

// Add counts one signal.
func (c *SignalCounts) Add(s Signal) {
	switch s {
	case SignalBuy:
		c.Buy++
	case SignalSell:
		c.Sell++
	default:
		c.Hold++
	}
}

// Side represents the direction of a trade. Only long positions are opened.
type Side string

const (
	SideBuy Side = "buy"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitSignal     ExitReason = "signal"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEndOfData  ExitReason = "end_of_data"
)

// Position is the single open long holding of a simulation.
type Position struct {
	Quantity   float64
	EntryPrice float64
	EntryTime  time.Time
	EntryFee   float64
}

// Trade is a closed position. Profit is net of the fees on both legs and
// Fees is their sum.
type Trade struct {
	EntryTime     time.Time  `json:"entryTime"`
	ExitTime      time.Time  `json:"exitTime"`
	EntryPrice    float64    `json:"entryPrice"`
	ExitPrice     float64    `json:"exitPrice"`
	Quantity      float64    `json:"quantity"`
	Side          Side       `json:"side"`
	Profit        float64    `json:"profit"`
	ProfitPercent float64    `json:"profitPercent"`
	Fees          float64    `json:"fees"`
	ExitReason    ExitReason `json:"exitReason"`
}

// Metrics are the summary statistics of a set of closed trades.
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

// DataKind distinguishes a backtest over exchange data from a demo run over
// generated candles.
type DataKind string

const (
	DataReal      DataKind = "real"
	DataSynthetic DataKind = "synthetic"
)

// NormalizeSymbol turns "BTC/USDT" or "btc-usdt" into "BTCUSDT".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}
