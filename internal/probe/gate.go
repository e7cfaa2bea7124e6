// Package probe implements the bounded-concurrency existence-check layer
// over candidate document URLs.
package probe

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate is the single outbound-request budget shared by the whole run:
// probing and downloading both acquire a permit before any network call
// and release it right after. A rate limiter in front of the permits keeps
// the request rate polite.
type Gate struct {
	permits *semaphore.Weighted
	limiter *rate.Limiter
}

// NewGate builds a gate with the given permit count and request rate.
// rps <= 0 disables rate limiting.
func NewGate(maxConcurrent int, rps float64, burst int) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Gate{
		permits: semaphore.NewWeighted(int64(maxConcurrent)),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Acquire blocks until a permit and a rate token are available.
// Every successful Acquire must be paired with Release.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if err := g.permits.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire request permit: %w", err)
	}
	return nil
}

// Release returns a permit to the gate.
func (g *Gate) Release() {
	g.permits.Release(1)
}
