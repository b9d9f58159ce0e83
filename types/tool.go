package types

import "encoding/json"

// ToolSchema defines a tool's interface for LLM function calling. The
// Summary Generator never populates ChatRequest.Tools itself, but the
// wire-protocol providers (providers/anthropic, llm/providers/openaicompat)
// still need to be able to translate a caller-supplied tool schema, so the
// generic Provider contract carries the full shape.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
	Version     string          `json:"version,omitempty"`
}
