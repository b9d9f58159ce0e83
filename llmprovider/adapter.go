package llmprovider

import (
	"context"
	"errors"
	"fmt"

	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/llm"
	"github.com/scribeflow/scribeflow/llm/tokenizer"
	"github.com/scribeflow/scribeflow/types"
)

// CostRates is the per-1K-token price for a bound model, informational
// metadata carried by the registry's Metadata.CostPerUnit.
type CostRates struct {
	InputPer1K  Money
	OutputPer1K Money
}

// Adapter wraps an llm.Provider (Completion/Stream/Name) as an
// llmprovider.Provider, translating between types.Message/ChatRequest and
// the narrower Chat/Generate/ChatStream shape the summary generator uses.
type Adapter struct {
	inner     llm.Provider
	modelID   string
	rates     CostRates
	tokenizer tokenizer.Tokenizer
}

// NewAdapter binds inner to a specific model, with the cost rates the
// registry's static metadata declared for that model.
func NewAdapter(inner llm.Provider, modelID string, rates CostRates) *Adapter {
	return &Adapter{
		inner:     inner,
		modelID:   modelID,
		rates:     rates,
		tokenizer: tokenizer.GetTokenizerOrEstimator(modelID),
	}
}

func (a *Adapter) ModelName() string { return a.modelID }

func (a *Adapter) EstimateCost(inputTokens, outputTokens int) Money {
	return Money(float64(inputTokens)/1000*float64(a.rates.InputPer1K)) +
		Money(float64(outputTokens)/1000*float64(a.rates.OutputPer1K))
}

func (a *Adapter) Chat(ctx context.Context, messages []types.Message, params Params) (string, error) {
	resp, err := a.inner.Completion(ctx, a.buildRequest(messages, params))
	if err != nil {
		return "", mapProviderError(a.inner.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llmprovider: %s returned no choices", a.inner.Name())
	}
	return resp.Choices[0].Message.Content, nil
}

func (a *Adapter) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	messages := []types.Message{types.NewMessage(types.RoleUser, prompt)}
	return a.Chat(ctx, messages, params)
}

func (a *Adapter) ChatStream(ctx context.Context, messages []types.Message, params Params) (<-chan StreamChunk, error) {
	raw, err := a.inner.Stream(ctx, a.buildRequest(messages, params))
	if err != nil {
		return nil, mapProviderError(a.inner.Name(), err)
	}
	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)
		for chunk := range raw {
			sc := StreamChunk{
				Delta:        chunk.Delta.Content,
				FinishReason: chunk.FinishReason,
			}
			if chunk.Err != nil {
				sc.Err = chunk.Err
			}
			select {
			case out <- sc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// mapProviderError lifts a vendor llm.Error into the apperr taxonomy the
// orchestrator's retry classification runs on. Rate limits and vendor
// quota rejections surface as the quota-exceeded business code; auth and
// bad-request failures are terminal; everything else is a vendor error
// carrying the vendor's own retryability verdict.
func mapProviderError(provider string, err error) error {
	var le *llm.Error
	if !errors.As(err, &le) {
		return apperr.Vendor(provider, err)
	}
	switch le.Code {
	case llm.ErrRateLimited, llm.ErrQuotaExceeded:
		return apperr.New(apperr.CodeQuotaExceeded, le.Message).
			WithProvider(provider).WithCause(le).WithRetryable(le.Retryable)
	case llm.ErrUnauthorized, llm.ErrForbidden, llm.ErrInvalidRequest:
		return apperr.New(apperr.CodeVendorRejected, le.Message).
			WithProvider(provider).WithCause(le).WithRetryable(false)
	default:
		return apperr.Vendor(provider, le).WithRetryable(le.Retryable)
	}
}

func (a *Adapter) buildRequest(messages []types.Message, params Params) *llm.ChatRequest {
	model := a.modelID
	if params.ModelID != "" {
		model = params.ModelID
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &llm.ChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
	}
}

// CountTokens estimates the token count of text with the tokenizer of this
// adapter's bound model, falling back to len(text)/4 when the tokenizer
// returns an error.
func (a *Adapter) CountTokens(text string) int {
	n, err := a.tokenizer.CountTokens(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}
