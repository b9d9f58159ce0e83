package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/scribeflow/scribeflow/apperr"
)

// RetryPolicy configures exponential backoff with one-sided jitter in
// `[0, 0.3*delay]`.
type RetryPolicy struct {
	MaxAttempts  int // total attempts including the first, default 3
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	OnRetry      func(attempt int, err error, delay time.Duration)

	// Limiter, when set, gates every attempt (first included). It caps the
	// aggregate retry rate against one provider so a breaker flipping back
	// to closed does not release a stampede of queued retries at once.
	Limiter *rate.Limiter
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Do executes fn, retrying transient failures per policy. Non-retryable
// errors (apperr.Error with Retryable=false, or any error that isn't an
// *apperr.Error) bypass retry entirely — only errors explicitly marked
// retryable are retried; input/permission/format failures are terminal.
func Do(ctx context.Context, policy RetryPolicy, logger *zap.Logger, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := calculateDelay(policy, attempt-1)
			if policy.OnRetry != nil {
				policy.OnRetry(attempt, lastErr, delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if policy.Limiter != nil {
			if err := policy.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("retry cancelled: %w", err)
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !apperr.IsRetryable(lastErr) {
			return lastErr
		}
		logger.Debug("transient failure, will retry",
			zap.Int("attempt", attempt), zap.Error(lastErr))
	}

	return fmt.Errorf("exhausted %d attempts: %w", policy.MaxAttempts, lastErr)
}

// calculateDelay implements base*factor^(attempt-1), capped at MaxDelay,
// plus one-sided jitter in [0, 0.3*delay].
func calculateDelay(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attempt-1))
	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	jitter := rand.Float64() * 0.3 * delay
	return time.Duration(delay + jitter)
}
