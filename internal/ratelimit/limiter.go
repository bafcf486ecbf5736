// Package ratelimit provides a token-paced gate shared by every caller of a
// single upstream.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter paces requests to one upstream at a fixed rate. A single instance
// may be shared by concurrent workers; waiters are granted in the order they
// reach the limiter's internal lock, and with a burst of one, grants are
// spaced at least 1/perSecond apart.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing at most perSecond grants per second.
// Non-positive rates fall back to one per second.
func New(perSecond float64) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Acquire blocks until the next grant is due. It only fails when ctx is
// cancelled before the grant arrives.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.rl.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: acquire: %w", err)
	}
	return nil
}
