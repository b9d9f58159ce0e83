package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/apperr"
)

func TestDo_SucceedsWithoutRetryOnFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultRetryPolicy(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialDelay = 0
	calls := 0
	err := Do(context.Background(), policy, nil, func() error {
		calls++
		if calls < 2 {
			return apperr.New(apperr.CodeVendorUnavailable, "transient").WithRetryable(true)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryTerminalErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultRetryPolicy(), nil, func() error {
		calls++
		return apperr.New(apperr.CodeInvalidParam, "bad input").WithRetryable(false)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 3
	policy.InitialDelay = 0
	calls := 0
	err := Do(context.Background(), policy, nil, func() error {
		calls++
		return apperr.New(apperr.CodeVendorUnavailable, "still failing").WithRetryable(true)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.InitialDelay = 50_000_000 // 50ms, larger than ctx timeout
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, policy, nil, func() error {
		return apperr.New(apperr.CodeVendorUnavailable, "x").WithRetryable(true)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || err != nil)
}
