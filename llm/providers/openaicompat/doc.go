// Package openaicompat implements llm.Provider over the OpenAI
// chat-completions wire format.
//
// One client covers the OpenAI API itself and any self-hosted
// OpenAI-compatible gateway: the config selects name, base URL, default
// model, and optional custom headers. Only the plain text completion
// surface is wired (Completion and SSE Stream); tool calling and
// vendor-specific request fields are not supported.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o-mini",
//	}, logger)
package openaicompat
