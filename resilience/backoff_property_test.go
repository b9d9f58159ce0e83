package resilience

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// The computed delay for attempt n must stay inside
// [base*factor^(n-1), 1.3*base*factor^(n-1)] (one-sided jitter), capped at
// MaxDelay plus its jitter allowance.
func TestProperty_BackoffDelayBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("delay stays within the jitter envelope", prop.ForAll(
		func(baseMs int, attempt int) bool {
			policy := RetryPolicy{
				MaxAttempts:  3,
				InitialDelay: time.Duration(baseMs) * time.Millisecond,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
			}
			delay := calculateDelay(policy, attempt)

			expected := float64(policy.InitialDelay)
			for i := 1; i < attempt; i++ {
				expected *= policy.Multiplier
			}
			if expected > float64(policy.MaxDelay) {
				expected = float64(policy.MaxDelay)
			}
			lower := time.Duration(expected)
			upper := time.Duration(expected * 1.3)
			return delay >= lower && delay <= upper
		},
		gen.IntRange(1, 5000),
		gen.IntRange(1, 10),
	))

	properties.Property("delay is monotone in the attempt number below the cap", prop.ForAll(
		func(baseMs int, attempt int) bool {
			policy := RetryPolicy{
				MaxAttempts:  3,
				InitialDelay: time.Duration(baseMs) * time.Millisecond,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
			}
			// With factor 2 and jitter capped at 0.3x, the jittered delay
			// for attempt n is strictly below the jitter-free floor for
			// attempt n+1, so successive delays always grow while the
			// exponent stays below MaxDelay.
			return calculateDelay(policy, attempt) <= calculateDelay(policy, attempt+1)
		},
		gen.IntRange(1, 3000),
		gen.IntRange(1, 3),
	))

	properties.TestingRun(t)
}
