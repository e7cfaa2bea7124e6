// Package fetch downloads confirmed register documents, fingerprints them,
// enriches them with population snapshots, and produces manifest records.
package fetch

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/url"
	"time"

	"stortinget-register/internal/metrics"
)

// HTTPStatusError reports a non-2xx download response.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

var retryableStatuses = map[int]struct{}{
	429: {},
	502: {},
	503: {},
	504: {},
}

// IsRetryable classifies an error as transient. Context cancellation and
// permanent HTTP statuses (404 and other 4xx except 429) are not worth
// retrying; timeouts, connection failures, and throttling statuses are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		_, ok := retryableStatuses[statusErr.StatusCode]
		return ok
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// RetryPolicy retries an operation with exponential backoff and jitter.
// The classification predicate decides which errors are worth another
// attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Classify    func(error) bool
}

// DefaultRetryPolicy matches the server's observed behavior: up to five
// attempts, ~1s initial delay doubling to a 60s cap.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Classify:    IsRetryable,
	}
}

// Do runs op until it succeeds, fails permanently, or exhausts the attempt
// ceiling. The last error is returned.
func (p *RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RecordRetry()
			select {
			case <-time.After(p.backoff(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = op(ctx); err == nil {
			return nil
		}
		if !p.Classify(err) {
			return err
		}
	}
	return err
}

func (p *RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
