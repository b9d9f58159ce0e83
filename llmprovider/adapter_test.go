package llmprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/llm"
	"github.com/scribeflow/scribeflow/testutil/mocks"
	"github.com/scribeflow/scribeflow/types"
)

func TestAdapterChat(t *testing.T) {
	mock := mocks.NewSuccessProvider("the summary")
	a := NewAdapter(mock, "gpt-4o-mini", CostRates{InputPer1K: 0.0001, OutputPer1K: 0.0003})

	out, err := a.Chat(context.Background(), []types.Message{types.NewMessage(types.RoleUser, "hi")}, Params{})
	require.NoError(t, err)
	assert.Equal(t, "the summary", out)
	assert.Equal(t, "gpt-4o-mini", a.ModelName())
}

func TestAdapterGenerateUsesSingleUserMessage(t *testing.T) {
	mock := mocks.NewSuccessProvider("generated")
	a := NewAdapter(mock, "claude-haiku", CostRates{})

	out, err := a.Generate(context.Background(), "write a haiku", Params{})
	require.NoError(t, err)
	assert.Equal(t, "generated", out)

	last := mock.GetLastCall()
	require.NotNil(t, last)
	require.Len(t, last.Request.Messages, 1)
	assert.Equal(t, types.RoleUser, last.Request.Messages[0].Role)
}

func TestAdapterEstimateCost(t *testing.T) {
	a := NewAdapter(mocks.NewSuccessProvider("x"), "m", CostRates{InputPer1K: 1.0, OutputPer1K: 2.0})
	cost := a.EstimateCost(1000, 500)
	assert.InDelta(t, float64(1.0+1.0), float64(cost), 1e-9)
}

func TestAdapterChatPropagatesError(t *testing.T) {
	mock := mocks.NewErrorProvider(assertErr{"boom"})
	a := NewAdapter(mock, "m", CostRates{})
	_, err := a.Chat(context.Background(), []types.Message{types.NewMessage(types.RoleUser, "hi")}, Params{})
	assert.Error(t, err)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestMapProviderError(t *testing.T) {
	rateLimited := mapProviderError("claude", &llm.Error{Code: llm.ErrRateLimited, Message: "slow down", Retryable: true})
	assert.Equal(t, apperr.CodeQuotaExceeded, apperr.Code(rateLimited))
	assert.True(t, apperr.IsRetryable(rateLimited))

	badReq := mapProviderError("claude", &llm.Error{Code: llm.ErrInvalidRequest, Message: "bad field"})
	assert.Equal(t, apperr.CodeVendorRejected, apperr.Code(badReq))
	assert.False(t, apperr.IsRetryable(badReq))

	upstream := mapProviderError("claude", &llm.Error{Code: llm.ErrUpstreamError, Message: "502", Retryable: true})
	assert.Equal(t, apperr.CodeVendorUnavailable, apperr.Code(upstream))
	assert.True(t, apperr.IsRetryable(upstream))

	plain := mapProviderError("claude", assertErr{"boom"})
	assert.Equal(t, apperr.CodeVendorUnavailable, apperr.Code(plain))
	assert.True(t, apperr.IsRetryable(plain))
}

func TestAdapterChatStream(t *testing.T) {
	mock := mocks.NewStreamProvider([]string{"a", "b", "c"})
	a := NewAdapter(mock, "m", CostRates{})
	ch, err := a.ChatStream(context.Background(), []types.Message{types.NewMessage(types.RoleUser, "hi")}, Params{})
	require.NoError(t, err)

	var got []string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		got = append(got, chunk.Delta)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
