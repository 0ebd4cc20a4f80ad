// Package backtest replays candles through a strategy with a single long
// position, a cash balance and a proportional fee, and reduces the closed
// trades into summary metrics.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"cryptobot/internal/domain"
	"cryptobot/internal/strategy"
)

const (
	// DefaultPositionSizeFraction is the share of the cash balance committed
	// to each new position.
	DefaultPositionSizeFraction = 0.95

	// DefaultHistoryWindow is the number of previous candles handed to the
	// strategy on each step.
	DefaultHistoryWindow = 100
)

// Config parameterises a Simulator.
type Config struct {
	InitialBalance       float64 `json:"initialBalance" yaml:"initial_balance"`
	FeeRate              float64 `json:"feeRate" yaml:"fee_rate"`
	PositionSizeFraction float64 `json:"positionSizeFraction,omitempty" yaml:"position_size_fraction"`
	HistoryWindow        int     `json:"historyWindow,omitempty" yaml:"history_window"`

	// StopLoss and TakeProfit are fractions of the entry price at which an
	// open position is closed regardless of the strategy. Zero disables.
	StopLoss   float64 `json:"stopLoss,omitempty" yaml:"stop_loss"`
	TakeProfit float64 `json:"takeProfit,omitempty" yaml:"take_profit"`
}

func (c Config) withDefaults() Config {
	if c.PositionSizeFraction == 0 {
		c.PositionSizeFraction = DefaultPositionSizeFraction
	}
	if c.HistoryWindow == 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	return c
}

// Validate reports the first degenerate field, wrapped in
// domain.ErrInvalidConfiguration. Zero fee is allowed.
func (c Config) Validate() error {
	switch {
	case !(c.InitialBalance > 0) || math.IsInf(c.InitialBalance, 0):
		return fmt.Errorf("%w: initial balance must be positive, got %v", domain.ErrInvalidConfiguration, c.InitialBalance)
	case !(c.FeeRate >= 0 && c.FeeRate < 1):
		return fmt.Errorf("%w: fee rate must be within [0,1), got %v", domain.ErrInvalidConfiguration, c.FeeRate)
	case !(c.PositionSizeFraction > 0 && c.PositionSizeFraction <= 1):
		return fmt.Errorf("%w: position size fraction must be within (0,1], got %v", domain.ErrInvalidConfiguration, c.PositionSizeFraction)
	case c.HistoryWindow < 0:
		return fmt.Errorf("%w: history window must not be negative, got %d", domain.ErrInvalidConfiguration, c.HistoryWindow)
	case !(c.StopLoss >= 0 && c.StopLoss < 1):
		return fmt.Errorf("%w: stop loss must be within [0,1), got %v", domain.ErrInvalidConfiguration, c.StopLoss)
	case !(c.TakeProfit >= 0):
		return fmt.Errorf("%w: take profit must not be negative, got %v", domain.ErrInvalidConfiguration, c.TakeProfit)
	}
	return nil
}

// Option customises a Simulator.
type Option func(*Simulator)

// WithTradeObserver registers fn to be called synchronously with every
// trade as it closes.
func WithTradeObserver(fn func(domain.Trade)) Option {
	return func(s *Simulator) { s.onTrade = fn }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// Simulator runs deterministic single-position backtests. A Simulator holds
// no per-run state and may be reused; strategies may not.
type Simulator struct {
	cfg     Config
	onTrade func(domain.Trade)
	log     *slog.Logger
}

// NewSimulator validates cfg and creates a Simulator.
func NewSimulator(cfg Config, opts ...Option) (*Simulator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		cfg: cfg,
		log: slog.Default().With("component", "backtest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration, defaults applied.
func (s *Simulator) Config() Config { return s.cfg }

// CheckWarmup fails with domain.ErrInvalidConfiguration when strat needs more
// history than the window hands it, since it could never leave its warm-up.
func (s *Simulator) CheckWarmup(strat strategy.Strategy) error {
	if n := strat.MinHistory(); n > s.cfg.HistoryWindow {
		return fmt.Errorf("%w: %s needs %d history candles but the window holds %d",
			domain.ErrInvalidConfiguration, strat.Name(), n, s.cfg.HistoryWindow)
	}
	return nil
}

// Run is a convenience wrapper building a Simulator with default sizing and
// history window.
func Run(ctx context.Context, candles []domain.Candle, strat strategy.Strategy, initialBalance, feeRate float64) (*Result, error) {
	sim, err := NewSimulator(Config{InitialBalance: initialBalance, FeeRate: feeRate})
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx, candles, strat)
}

// run holds the mutable state of one simulation.
type run struct {
	balance     float64
	peak        float64
	maxDD       float64
	peakEquity  float64
	maxEquityDD float64
	position    *domain.Position
	trades      []domain.Trade
	signals     domain.SignalCounts
	aware       strategy.PositionAware
}

// Run replays candles, oldest first, through strat. The strategy sees up to
// HistoryWindow previous candles on each step. Any position still open after
// the last candle is closed at its close price. ctx is checked once per
// candle; on cancellation no partial result is returned.
func (s *Simulator) Run(ctx context.Context, candles []domain.Candle, strat strategy.Strategy) (*Result, error) {
	if strat == nil {
		return nil, fmt.Errorf("%w: nil strategy", domain.ErrInvalidConfiguration)
	}
	if err := s.CheckWarmup(strat); err != nil {
		return nil, err
	}

	r := &run{
		balance:    s.cfg.InitialBalance,
		peak:       s.cfg.InitialBalance,
		peakEquity: s.cfg.InitialBalance,
	}
	r.aware, _ = strat.(strategy.PositionAware)

	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest cancelled at candle %d: %w", i, err)
		}

		history := candles[max(0, i-s.cfg.HistoryWindow):i]

		exited := false
		if r.position != nil {
			if reason, ok := s.protectiveExit(r.position, c); ok {
				s.closePosition(r, c, reason)
				exited = true
			}
		}

		sig := strat.GenerateSignal(history, c)
		r.signals.Add(sig)

		switch sig {
		case domain.SignalBuy:
			if r.position == nil && !exited {
				s.openPosition(r, c)
			}
		case domain.SignalSell:
			if r.position != nil {
				s.closePosition(r, c, domain.ExitSignal)
			}
		}

		r.mark(c.Close)
	}

	if r.position != nil {
		last := candles[len(candles)-1]
		s.closePosition(r, last, domain.ExitEndOfData)
		r.mark(last.Close)
	}

	metrics := Summarize(r.trades, s.cfg.InitialBalance, r.balance, r.maxDD)
	return &Result{
		Metrics:           metrics,
		InitialBalance:    s.cfg.InitialBalance,
		FinalBalance:      r.balance,
		MaxEquityDrawdown: r.maxEquityDD * 100,
		Signals:           r.signals,
		Trades:            r.trades,
	}, nil
}

func (s *Simulator) protectiveExit(p *domain.Position, c domain.Candle) (domain.ExitReason, bool) {
	if s.cfg.StopLoss > 0 && c.Close <= p.EntryPrice*(1-s.cfg.StopLoss) {
		return domain.ExitStopLoss, true
	}
	if s.cfg.TakeProfit > 0 && c.Close >= p.EntryPrice*(1+s.cfg.TakeProfit) {
		return domain.ExitTakeProfit, true
	}
	return "", false
}

func (s *Simulator) openPosition(r *run, c domain.Candle) {
	if !(c.Close > 0) {
		return
	}
	qty := s.cfg.PositionSizeFraction * r.balance / c.Close
	value := qty * c.Close
	fee := value * s.cfg.FeeRate

	r.balance -= value + fee
	r.position = &domain.Position{
		Quantity:   qty,
		EntryPrice: c.Close,
		EntryTime:  c.Timestamp,
		EntryFee:   fee,
	}
	if r.aware != nil {
		r.aware.OnOpen(c.Close)
	}
}

func (s *Simulator) closePosition(r *run, c domain.Candle, reason domain.ExitReason) {
	p := r.position
	entryValue := p.Quantity * p.EntryPrice
	exitValue := p.Quantity * c.Close
	exitFee := exitValue * s.cfg.FeeRate
	profit := exitValue - entryValue - p.EntryFee - exitFee

	var pct float64
	if entryValue > 0 {
		pct = profit / entryValue * 100
	}

	t := domain.Trade{
		EntryTime:     p.EntryTime,
		ExitTime:      c.Timestamp,
		EntryPrice:    p.EntryPrice,
		ExitPrice:     c.Close,
		Quantity:      p.Quantity,
		Side:          domain.SideBuy,
		Profit:        profit,
		ProfitPercent: pct,
		Fees:          p.EntryFee + exitFee,
		ExitReason:    reason,
	}
	r.balance += exitValue - exitFee
	r.trades = append(r.trades, t)
	r.position = nil
	if r.aware != nil {
		r.aware.OnClose()
	}

	s.log.Debug("position closed",
		"entry", t.EntryPrice,
		"exit", t.ExitPrice,
		"profit", t.Profit,
		"reason", string(reason),
	)
	if s.onTrade != nil {
		s.onTrade(t)
	}
}

// mark updates the cash and mark-to-market drawdown after a candle.
func (r *run) mark(price float64) {
	if r.balance > r.peak {
		r.peak = r.balance
	}
	if r.peak > 0 {
		if dd := (r.peak - r.balance) / r.peak; dd > r.maxDD {
			r.maxDD = dd
		}
	}

	equity := r.balance
	if r.position != nil {
		equity += r.position.Quantity * price
	}
	if equity > r.peakEquity {
		r.peakEquity = equity
	}
	if r.peakEquity > 0 {
		if dd := (r.peakEquity - equity) / r.peakEquity; dd > r.maxEquityDD {
			r.maxEquityDD = dd
		}
	}
}
