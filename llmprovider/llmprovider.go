// Package llmprovider defines the LLM provider contract used by the
// summary generator: Chat for multi-turn messages, Generate for a single
// prompt, an optional ChatStream, ModelName, and EstimateCost.
//
// Rather than re-implement the HTTP wire protocol, the Adapter in this
// package wraps the existing llm.Provider implementations
// (providers/anthropic, llm/providers/openaicompat).
package llmprovider

import (
	"context"
	"errors"

	"github.com/scribeflow/scribeflow/types"
)

// ErrStreamingUnsupported is returned by ChatStream on a provider whose
// underlying wire protocol does not expose a streaming endpoint here.
var ErrStreamingUnsupported = errors.New("llmprovider: provider does not support streaming")

// Money is a cost estimate in USD with sub-cent precision retained as a
// float64.
type Money float64

// Params carries per-call tunables.
type Params struct {
	Temperature float32
	MaxTokens   int
	ModelID     string // overrides the provider's default model when set
}

// StreamChunk is one piece of a ChatStream response.
type StreamChunk struct {
	Delta        string
	FinishReason string
	Err          error
}

// Provider is the uniform LLM contract the Summary Generator calls through.
type Provider interface {
	Chat(ctx context.Context, messages []types.Message, params Params) (string, error)
	Generate(ctx context.Context, prompt string, params Params) (string, error)

	// ChatStream is optional; a provider that does not support streaming
	// returns ErrStreamingUnsupported.
	ChatStream(ctx context.Context, messages []types.Message, params Params) (<-chan StreamChunk, error)

	ModelName() string
	EstimateCost(inputTokens, outputTokens int) Money
}
