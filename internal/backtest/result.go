package backtest

import (
	"math"

	"cryptobot/internal/domain"
	"cryptobot/internal/indicator"
)

// Result is the outcome of one simulation. The embedded metrics are
// flattened into the JSON object.
type Result struct {
	domain.Metrics
	InitialBalance    float64             `json:"initialBalance"`
	FinalBalance      float64             `json:"finalBalance"`
	MaxEquityDrawdown float64             `json:"maxEquityDrawdown"`
	Signals           domain.SignalCounts `json:"signals"`
	Trades            []domain.Trade      `json:"trades"`
}

// tradingDaysPerYear annualises the per-trade Sharpe ratio. Trades are not
// daily returns, so the figure is an approximation kept for comparability.
const tradingDaysPerYear = 252

// Summarize reduces closed trades into metrics. maxDrawdown is a fraction
// and is reported as a percentage. A trade with zero profit counts as a
// loss.
func Summarize(trades []domain.Trade, initialBalance, finalBalance, maxDrawdown float64) domain.Metrics {
	m := domain.Metrics{
		TotalTrades: len(trades),
		NetProfit:   finalBalance - initialBalance,
		MaxDrawdown: maxDrawdown * 100,
	}

	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		if t.Profit > 0 {
			m.WinningTrades++
			m.TotalProfit += t.Profit
		} else {
			m.LosingTrades++
			m.TotalLoss += math.Abs(t.Profit)
		}
		returns = append(returns, t.ProfitPercent)
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.TotalLoss > 0 {
		m.ProfitFactor = m.TotalProfit / m.TotalLoss
	} else {
		m.ProfitFactor = m.TotalProfit
	}
	m.SharpeRatio = sharpe(returns)
	return m
}

// sharpe is mean/population-stddev of per-trade percent returns scaled by
// sqrt(252). It is zero when there is no dispersion.
func sharpe(returns []float64) float64 {
	mean, std := indicator.MeanStd(returns)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}
