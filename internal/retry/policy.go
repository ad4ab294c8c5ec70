// Package retry implements the bounded exponential backoff applied to
// outbound geocoder and mail-API calls.
package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Policy retries an operation up to MaxAttempts times, waiting
// BaseDelay·2^attempt (plus jitter, capped at MaxDelay) between attempts.
// Every failure is treated the same; only context cancellation stops the
// loop early.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewPolicy builds the default policy: 4 attempts, 500ms base, doubling.
func NewPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Do runs op until it succeeds, the attempt budget is spent, or ctx ends.
// The last failure is returned unwrapped so callers can errors.Is on it.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// Backoff returns the wait duration after the given zero-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay) + randomJitter(time.Duration(delay)/2)
}

// RetryableStatus reports whether an HTTP status is worth another attempt.
// Only server-side 5xx failures are; anything else is definitive.
func RetryableStatus(code int) bool {
	return code >= 500 && code <= 599
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
