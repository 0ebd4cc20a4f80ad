package engine

import (
	"fmt"
	"math"

	"cryptobot/internal/domain"
)

// Allocation gives one request a share of a combined capital.
type Allocation struct {
	Request Request
	Weight  float64
}

// ComboAllocations returns the combined split of base across the built-in
// strategies: 30% dca, 20% grid, 25% momentum and 25% technical, which buys
// oversold dips. base supplies the symbol, range and exits of every leg.
func ComboAllocations(base Request) []Allocation {
	legs := []struct {
		kind   string
		weight float64
	}{
		{"dca", 0.30},
		{"grid", 0.20},
		{"momentum", 0.25},
		{"technical", 0.25},
	}
	out := make([]Allocation, 0, len(legs))
	for _, l := range legs {
		req := base
		req.Strategy = domain.StrategySpec{Kind: l.kind}
		out = append(out, Allocation{Request: req, Weight: l.weight})
	}
	return out
}

// SplitCapital turns allocs into requests whose InitialBalance is capital
// times their weight. Weights must be positive and sum to at most 1; the
// unallocated rest stays idle.
func SplitCapital(capital float64, allocs []Allocation) ([]Request, error) {
	if capital <= 0 {
		return nil, fmt.Errorf("%w: capital must be positive, got %g", domain.ErrInvalidConfiguration, capital)
	}
	if len(allocs) == 0 {
		return nil, fmt.Errorf("%w: no allocations", domain.ErrInvalidConfiguration)
	}

	var total float64
	reqs := make([]Request, len(allocs))
	for i, a := range allocs {
		if !(a.Weight > 0) || math.IsInf(a.Weight, 0) {
			return nil, fmt.Errorf("%w: allocation %d has weight %g", domain.ErrInvalidConfiguration, i, a.Weight)
		}
		total += a.Weight
		reqs[i] = a.Request
		reqs[i].InitialBalance = capital * a.Weight
	}
	if total > 1+1e-9 {
		return nil, fmt.Errorf("%w: allocation weights sum to %g", domain.ErrInvalidConfiguration, total)
	}
	return reqs, nil
}

// Portfolio totals the successful runs of a batch.
type Portfolio struct {
	Runs           int     `json:"runs"`
	Failed         int     `json:"failed"`
	InitialBalance float64 `json:"initialBalance"`
	FinalBalance   float64 `json:"finalBalance"`
	NetProfit      float64 `json:"netProfit"`
	ReturnPct      float64 `json:"returnPct"`
}

// Summarize adds up the balances of the runs in results. Failed runs are
// counted but contribute no balance.
func Summarize(results []BatchResult) Portfolio {
	var p Portfolio
	for _, r := range results {
		if r.Run == nil {
			p.Failed++
			continue
		}
		p.Runs++
		p.InitialBalance += r.Run.InitialBalance
		p.FinalBalance += r.Run.FinalBalance
	}
	p.NetProfit = p.FinalBalance - p.InitialBalance
	if p.InitialBalance > 0 {
		p.ReturnPct = p.NetProfit / p.InitialBalance * 100
	}
	return p
}
