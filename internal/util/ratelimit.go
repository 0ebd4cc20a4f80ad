package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound requests to perMinute operations per minute.
// A nil *RateLimiter never blocks.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter creates a RateLimiter allowing perMinute operations per
// minute with a burst of one. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	every := time.Minute / time.Duration(perMinute)
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(every), 1)}
}

// Wait blocks until a token is available or the context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.lim == nil {
		return nil
	}
	return rl.lim.Wait(ctx)
}
