// Package gather backfills market data into local storage.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching. Both ends are
// inclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the range contains no instant.
func (r DateRange) Empty() bool { return r.End.Before(r.Start) }

// Windows splits r into consecutive sub-ranges holding at most n steps of
// size step each.
func (r DateRange) Windows(step time.Duration, n int) []DateRange {
	if r.Empty() || step <= 0 || n <= 0 {
		return nil
	}
	var out []DateRange
	for from := r.Start; !from.After(r.End); {
		to := from.Add(time.Duration(n-1) * step)
		if to.After(r.End) {
			to = r.End
		}
		out = append(out, DateRange{Start: from, End: to})
		from = to.Add(step)
	}
	return out
}
