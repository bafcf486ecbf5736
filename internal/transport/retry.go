// Package transport applies a uniform retry policy to upstream calls:
// bounded attempts, exponential backoff, and a classification of errors
// that decides whether an exhausted call propagates or degrades to an
// empty result.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmelnik/polysync/internal/domain"
	"github.com/dmelnik/polysync/internal/ratelimit"
)

// Class buckets an upstream error by how the sync should react to it.
type Class int

const (
	// ClassTransport covers connection drops, timeouts and remote rate
	// limits. Retried with backoff; after the attempt budget the error
	// propagates to the caller.
	ClassTransport Class = iota
	// ClassIndexer covers a lagging or briefly unavailable graph indexer.
	// Retried; after the attempt budget the call yields an empty result so
	// the run can make progress elsewhere.
	ClassIndexer
	// ClassFatal covers malformed requests and permanently absent schema.
	// After the attempt budget the call yields an empty result with a
	// logged warning rather than aborting the sync.
	ClassFatal
)

// Classifier maps an error to its Class.
type Classifier func(err error) Class

// Policy is a bounded retry policy. The zero value retries three times with
// a one-second base delay and classifies everything as ClassTransport.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration // attempt n backs off BaseDelay << n
	Classify    Classifier
	// Limiter, when set, is consumed once per attempt before the call is
	// issued.
	Limiter *ratelimit.Limiter
	// OnTransport, when set, runs after a ClassTransport failure and before
	// the next attempt. The chain client uses it to rotate RPC endpoints.
	OnTransport func(err error)
	Logger      *slog.Logger
}

func (p Policy) attempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 3
}

func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	return base << attempt
}

func (p Policy) class(err error) Class {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return ClassTransport
}

// Do runs fn under the policy. Every attempt first takes a rate limiter
// grant. When all attempts fail, the outcome depends on the class of the
// last error: ClassTransport propagates it, ClassIndexer and ClassFatal
// return the zero value with a nil error. Context cancellation always
// propagates immediately.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	var lastClass Class

	attempts := p.attempts()
	for attempt := range attempts {
		if p.Limiter != nil {
			if err := p.Limiter.Acquire(ctx); err != nil {
				return zero, err
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}

		lastErr = err
		lastClass = p.class(err)

		if lastClass == ClassTransport && p.OnTransport != nil {
			p.OnTransport(err)
		}

		if attempt == attempts-1 {
			break
		}

		delay := p.backoff(attempt)
		if p.Logger != nil {
			p.Logger.Warn("upstream call failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", attempts),
				slog.Duration("backoff", delay),
				slog.String("error", err.Error()),
			)
		}
		if err := Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	switch lastClass {
	case ClassIndexer, ClassFatal:
		if p.Logger != nil {
			p.Logger.Warn("upstream exhausted retries, degrading to empty result",
				slog.String("op", op),
				slog.Int("attempts", attempts),
				slog.String("error", lastErr.Error()),
			)
		}
		return zero, nil
	default:
		return zero, fmt.Errorf("transport: %s after %d attempts: %w", op, attempts, lastErr)
	}
}

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultClassify classifies by well-known sentinel errors first, then by
// the message heuristics the upstreams are known to emit.
func DefaultClassify(err error) Class {
	switch {
	case errors.Is(err, domain.ErrIndexerUnavailable):
		return ClassIndexer
	case errors.Is(err, domain.ErrSchemaMismatch):
		return ClassFatal
	case errors.Is(err, domain.ErrRateLimited):
		return ClassTransport
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "bad indexers"),
		strings.Contains(msg, "too far behind"),
		strings.Contains(msg, "unavailable"):
		return ClassIndexer
	case strings.Contains(msg, "no field"),
		strings.Contains(msg, "unknown field"):
		return ClassFatal
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "refused"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return ClassTransport
	}
	return ClassTransport
}
