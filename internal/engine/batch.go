package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cryptobot/internal/domain"
)

// BatchResult is the outcome of one request of a batch. Exactly one of Run
// and Err is set.
type BatchResult struct {
	Index   int                 `json:"index"`
	Request Request             `json:"request"`
	Run     *domain.BacktestRun `json:"run,omitempty"`
	Err     error               `json:"-"`
	Error   string              `json:"error,omitempty"`
}

// RunBatch executes reqs concurrently on the engine's worker pool. Each run
// gets its own strategy and simulator, and a failing run does not affect the
// others. Results are returned in request order.
func (e *Engine) RunBatch(ctx context.Context, reqs []Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	jobs := make(chan int, len(reqs))
	for i := range reqs {
		jobs <- i
	}
	close(jobs)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int64
		failed   atomic.Int64
		runStart = time.Now()
	)

	workers := min(e.workers, len(reqs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = BatchResult{Index: i, Request: reqs[i]}
				if err := ctx.Err(); err != nil {
					results[i].Err = err
					results[i].Error = err.Error()
					failed.Add(1)
					continue
				}

				run, err := e.Run(ctx, reqs[i])
				if err != nil {
					e.log.Warn("batch run failed",
						"index", i,
						"symbol", reqs[i].Symbol,
						"strategy", reqs[i].Strategy.Kind,
						"error", err,
					)
					results[i].Err = err
					results[i].Error = err.Error()
					failed.Add(1)
					continue
				}
				results[i].Run = run
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	e.log.Info("batch complete",
		"runs", len(reqs),
		"ok", ok.Load(),
		"failed", failed.Load(),
		"workers", workers,
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return results
}
