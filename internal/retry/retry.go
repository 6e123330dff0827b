// Package retry wraps a single operation in bounded exponential backoff
// with jitter.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v3"

	"github.com/angeloszaimis/tool-dispatcher/internal/failure"
)

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Policy configures retries. A zero Jitter disables jitter.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Jitter:      time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Delay returns the backoff before the retry that follows the 0-indexed
// attempt: min(base * 2^attempt + jitter, max).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()

	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.Jitter > 0 {
		backoff += rand.Float64() * float64(p.Jitter)
	}

	if backoff >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(backoff)
}

// schedule adapts Policy.Delay to backoff.BackOff.
type schedule struct {
	policy  Policy
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	delay := s.policy.Delay(s.attempt)
	s.attempt++
	return delay
}

func (s *schedule) Reset() {
	s.attempt = 0
}

// Execute runs op until it succeeds, fails with an error isRetryable rejects,
// or MaxAttempts is reached. It returns the number of attempts made and the
// error of the last attempt. A nil isRetryable means failure.IsRetryable.
// If ctx ends during a backoff sleep the last attempt's error is returned.
func (p Policy) Execute(ctx context.Context, op Operation, isRetryable func(error) bool) (int, error) {
	p = p.withDefaults()
	if isRetryable == nil {
		isRetryable = failure.IsRetryable
	}

	var (
		attempts int
		lastErr  error
	)
	operation := func() error {
		attempts++
		lastErr = op(ctx, attempts)
		if lastErr != nil && !isRetryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	notify := func(_ error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, delay, lastErr)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&schedule{policy: p}, uint64(p.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err == nil {
		return attempts, nil
	}

	return attempts, lastErr
}
