// Copyright 2024 ScribeFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package llm provides the vendor-facing wire-protocol contract shared by
every LLM backend: the Provider interface, and the ChatRequest/ChatResponse/
StreamChunk/Model shapes concrete providers translate to and from.

# Scope

This package is deliberately narrow. Provider selection (which vendor to
call), retry/circuit-breaking (whether to call it again), and cost/quota
accounting are NOT implemented here — those are orchestration concerns
that live one level up, in the registry, selector, resilience, cost and
quota packages, which operate uniformly across ASR, LLM, and storage
providers rather than duplicating that machinery per service type. This
package only defines what a provider looks like and carries the two
concrete implementations the Summary Generator (package summary, via
package llmprovider) actually calls:

  - providers/anthropic — Claude, via x-api-key header + SSE streaming
  - llm/providers/openaicompat — any OpenAI-compatible chat completions
    endpoint (OpenAI itself, or a self-hosted compatible gateway)

# Provider Interface

	type Provider interface {
	    Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	    Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Name() string
	    SupportsNativeFunctionCalling() bool
	    ListModels(ctx context.Context) ([]Model, error)
	}

# Usage

	provider := claude.NewClaudeProvider(cfg, logger)
	resp, err := provider.Completion(ctx, &llm.ChatRequest{
	    Model:    "claude-3-5-sonnet-20241022",
	    Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hello!"}},
	})

package llmprovider wraps a Provider as the narrower Chat/Generate/
ChatStream contract the Summary Generator depends on (see llmprovider.Adapter).

# Subpackages

  - llm/credentials.go: per-request credential override via context, used
    by both concrete providers to support per-owner API keys
  - llm/middleware: request/response middleware chain and request
    rewriters (the concrete providers use its RewriterChain for prompt
    truncation)
  - llm/tokenizer: model-aware token counting (tiktoken-backed where a
    model's encoding is known, character-estimate fallback otherwise)
  - llm/providers: shared HTTP/error-mapping helpers plus the
    openaicompat provider
*/
package llm
