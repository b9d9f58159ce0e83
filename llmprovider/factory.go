package llmprovider

import (
	"go.uber.org/zap"

	claude "github.com/scribeflow/scribeflow/providers/anthropic"
	"github.com/scribeflow/scribeflow/providers"
	"github.com/scribeflow/scribeflow/llm/providers/openaicompat"
)

// NewClaudeAdapter binds the Anthropic Claude backend to a model.
func NewClaudeAdapter(cfg providers.ClaudeConfig, modelID string, rates CostRates, logger *zap.Logger) *Adapter {
	return NewAdapter(claude.NewClaudeProvider(cfg, logger), modelID, rates)
}

// NewOpenAICompatAdapter binds any OpenAI-compatible backend (OpenAI
// itself or a self-hosted compatible endpoint) to a model.
func NewOpenAICompatAdapter(cfg openaicompat.Config, modelID string, rates CostRates, logger *zap.Logger) *Adapter {
	return NewAdapter(openaicompat.New(cfg, logger), modelID, rates)
}
