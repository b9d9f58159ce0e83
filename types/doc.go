// Copyright (c) ScribeFlow Authors.
// Licensed under the MIT License.

/*
Package types provides the shared vocabulary for the LLM provider SDK
layer (llm, llm/providers/*, providers/anthropic): message/role shapes,
tool schemas, token usage, structured errors, and context propagation
helpers. It has zero dependencies on other internal packages so that both
the provider SDK layer and the domain packages that sit above it
(llmprovider, asr, summary) can import it without creating cycles.

# Core types

  - Message           — a conversation message (Role, Content, ToolCalls, Images)
  - ToolSchema         — a tool definition (name + description + JSON Schema parameters)
  - TokenUsage         — prompt/completion/total token counts plus cost
  - Tokenizer          — framework-level, Message/ToolSchema-aware token counting
  - Error / ErrorCode  — structured error with HTTP status, Retryable, Provider fields

# Capabilities

  - Context propagation: WithTraceID / WithTenantID / WithUserID / WithRunID
  - Error helpers: IsRetryable / GetErrorCode
  - Error construction: NewError plus WithCause / WithHTTPStatus / WithRetryable / WithProvider
  - Token estimation: EstimateTokenizer (character-based heuristic for non-model-aware callers)
*/
package types
