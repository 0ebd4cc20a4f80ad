// Package engine coordinates a backtest end to end: candle loading,
// strategy construction, simulation and persistence, for single runs and
// parallel batches.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cryptobot/internal/backtest"
	"cryptobot/internal/domain"
	"cryptobot/internal/marketdata"
	"cryptobot/internal/store"
	"cryptobot/internal/strategy/builtins"
)

// Request describes one backtest. Zero InitialBalance and a nil FeeRate take
// the engine defaults.
type Request struct {
	Symbol         string              `json:"symbol"`
	Timeframe      string              `json:"timeframe"`
	Start          time.Time           `json:"start"`
	End            time.Time           `json:"end"`
	Strategy       domain.StrategySpec `json:"strategy"`
	InitialBalance float64             `json:"initialBalance,omitempty"`
	FeeRate        *float64            `json:"feeRate,omitempty"`
	StopLoss       float64             `json:"stopLoss,omitempty"`
	TakeProfit     float64             `json:"takeProfit,omitempty"`
	AllowSynthetic bool                `json:"allowSynthetic,omitempty"`
}

// Engine runs backtests against a candle loader and an optional run store.
type Engine struct {
	loader    *marketdata.Loader
	runs      store.RunStore
	defaults  backtest.Config
	workers   int
	synthetic bool
	log       *slog.Logger
}

// New creates an Engine. runs may be nil to skip persistence. defaults
// supplies the balance, fee, sizing and history window for requests that
// leave them unset.
func New(loader *marketdata.Loader, runs store.RunStore, defaults backtest.Config, workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	return &Engine{
		loader:   loader,
		runs:     runs,
		defaults: defaults,
		workers:  workers,
		log:      slog.Default().With("component", "engine"),
	}
}

// WithSyntheticFallback makes every request accept synthetic candles when
// the primary source fails, as if it had set AllowSynthetic.
func (e *Engine) WithSyntheticFallback(enabled bool) *Engine {
	e.synthetic = enabled
	return e
}

func (e *Engine) simulatorConfig(req Request) backtest.Config {
	cfg := e.defaults
	if req.InitialBalance != 0 {
		cfg.InitialBalance = req.InitialBalance
	}
	if req.FeeRate != nil {
		cfg.FeeRate = *req.FeeRate
	}
	if req.StopLoss != 0 {
		cfg.StopLoss = req.StopLoss
	}
	if req.TakeProfit != 0 {
		cfg.TakeProfit = req.TakeProfit
	}
	return cfg
}

// Run executes one backtest. Invalid requests fail with
// domain.ErrInvalidConfiguration before any data is loaded; data problems
// surface as *marketdata.DataSourceError.
func (e *Engine) Run(ctx context.Context, req Request, opts ...backtest.Option) (*domain.BacktestRun, error) {
	symbol := domain.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrInvalidConfiguration)
	}
	tf, err := domain.ParseTimeframe(strings.TrimSpace(req.Timeframe))
	if err != nil {
		return nil, err
	}
	if !req.End.After(req.Start) {
		return nil, fmt.Errorf("%w: end %s must be after start %s",
			domain.ErrInvalidConfiguration, req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}

	strat, err := builtins.New(req.Strategy)
	if err != nil {
		return nil, err
	}
	cfg := e.simulatorConfig(req)
	sim, err := backtest.NewSimulator(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := sim.CheckWarmup(strat); err != nil {
		return nil, err
	}

	ds, err := e.loader.Load(ctx, marketdata.Request{
		Symbol:         symbol,
		Timeframe:      tf,
		Start:          req.Start,
		End:            req.End,
		MinCandles:     strat.MinHistory() + 1,
		AllowSynthetic: req.AllowSynthetic || e.synthetic,
	})
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	res, err := sim.Run(ctx, ds.Candles, strat)
	if err != nil {
		return nil, fmt.Errorf("simulating %s on %s: %w", strat.Name(), symbol, err)
	}

	eff := sim.Config()
	run := &domain.BacktestRun{
		Symbol:         symbol,
		Timeframe:      tf,
		Strategy:       req.Strategy,
		Start:          req.Start.UTC(),
		End:            req.End.UTC(),
		DataKind:       ds.Kind,
		Synthetic:      ds.Synthetic(),
		CandleCount:    len(ds.Candles),
		InitialBalance: res.InitialBalance,
		FinalBalance:   res.FinalBalance,
		FeeRate:        eff.FeeRate,
		Settings: domain.SimulationSettings{
			PositionSizeFraction: eff.PositionSizeFraction,
			HistoryWindow:        eff.HistoryWindow,
			StopLoss:             eff.StopLoss,
			TakeProfit:           eff.TakeProfit,
		},
		Metrics:           res.Metrics,
		MaxEquityDrawdown: res.MaxEquityDrawdown,
		Signals:           res.Signals,
		Trades:            res.Trades,
		CreatedAt:         time.Now().UTC(),
	}
	if e.runs != nil {
		if err := e.runs.SaveRun(ctx, run); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
	}

	e.log.Info("backtest complete",
		"id", run.ID,
		"symbol", symbol,
		"strategy", strat.Name(),
		"data", string(ds.Kind),
		"candles", run.CandleCount,
		"trades", run.Metrics.TotalTrades,
		"net_profit", run.Metrics.NetProfit,
		"elapsed", time.Since(startedAt).Round(time.Millisecond),
	)
	return run, nil
}

// IsClientError reports whether err stems from the request rather than the
// environment.
func IsClientError(err error) bool {
	return errors.Is(err, domain.ErrInvalidConfiguration)
}
