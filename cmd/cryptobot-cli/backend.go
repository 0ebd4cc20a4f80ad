package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"cryptobot/internal/app"
	"cryptobot/internal/domain"
	"cryptobot/internal/engine"
	"cryptobot/internal/report"
	"cryptobot/internal/strategy"
	"cryptobot/internal/strategy/builtins"
	"cryptobot/pkg/cryptobot"
)

// backend executes commands either in-process or against a running server.
type backend interface {
	Strategies(ctx context.Context) ([]strategy.Descriptor, error)
	Run(ctx context.Context, req engine.Request) (*domain.BacktestRun, error)
	RunBatch(ctx context.Context, reqs []engine.Request) ([]engine.BatchResult, error)
	GetRun(ctx context.Context, id string) (*domain.BacktestRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.BacktestRun, error)
	Close() error
}

// ---------------------------------------------------------------------------
// Local
// ---------------------------------------------------------------------------

type localBackend struct {
	c *app.Components
}

func newLocalBackend(cfgPath string, logOut io.Writer) (*localBackend, error) {
	c, err := app.Setup(cfgPath, logOut)
	if err != nil {
		return nil, err
	}
	return &localBackend{c: c}, nil
}

func (b *localBackend) Strategies(context.Context) ([]strategy.Descriptor, error) {
	return builtins.Registry().List(), nil
}

func (b *localBackend) Run(ctx context.Context, req engine.Request) (*domain.BacktestRun, error) {
	return b.c.Engine.Run(ctx, req)
}

func (b *localBackend) RunBatch(ctx context.Context, reqs []engine.Request) ([]engine.BatchResult, error) {
	return b.c.Engine.RunBatch(ctx, reqs), nil
}

func (b *localBackend) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	return b.c.Runs.GetRun(ctx, id)
}

func (b *localBackend) ListRuns(ctx context.Context, limit int) ([]domain.BacktestRun, error) {
	return b.c.Runs.ListRuns(ctx, limit)
}

func (b *localBackend) Close() error { return b.c.Close() }

// ---------------------------------------------------------------------------
// Remote
// ---------------------------------------------------------------------------

type remoteBackend struct {
	client *cryptobot.Client
}

func (b *remoteBackend) Strategies(ctx context.Context) ([]strategy.Descriptor, error) {
	out, err := b.client.Strategies(ctx)
	if err != nil {
		return nil, err
	}
	return convert[[]strategy.Descriptor](out)
}

func (b *remoteBackend) Run(ctx context.Context, req engine.Request) (*domain.BacktestRun, error) {
	in, err := convert[cryptobot.BacktestRequest](req)
	if err != nil {
		return nil, err
	}
	run, err := b.client.RunBacktest(ctx, in)
	if err != nil {
		return nil, err
	}
	return convert[*domain.BacktestRun](run)
}

func (b *remoteBackend) RunBatch(ctx context.Context, reqs []engine.Request) ([]engine.BatchResult, error) {
	in, err := convert[[]cryptobot.BacktestRequest](reqs)
	if err != nil {
		return nil, err
	}
	results, err := b.client.RunBatch(ctx, in)
	if err != nil {
		return nil, err
	}
	out, err := convert[[]engine.BatchResult](results)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Error != "" {
			out[i].Err = fmt.Errorf("%s", out[i].Error)
		}
		if out[i].Index < len(reqs) {
			out[i].Request = reqs[out[i].Index]
		}
	}
	return out, nil
}

func (b *remoteBackend) GetRun(ctx context.Context, id string) (*domain.BacktestRun, error) {
	run, err := b.client.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert[*domain.BacktestRun](run)
}

func (b *remoteBackend) ListRuns(ctx context.Context, limit int) ([]domain.BacktestRun, error) {
	runs, err := b.client.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	return convert[[]domain.BacktestRun](runs)
}

func (b *remoteBackend) Close() error { return nil }

// convert maps between the SDK and internal types, which share one JSON
// shape.
func convert[T any](in any) (T, error) {
	var out T
	b, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("converting %T: %w", in, err)
	}
	return out, nil
}

// writeExport renders a run's trades CSV or equity chart.
func writeExport(w io.Writer, run *domain.BacktestRun, chart bool) error {
	if chart {
		return report.WriteEquityChart(w, run)
	}
	return report.WriteTradesCSV(w, run.Trades)
}
