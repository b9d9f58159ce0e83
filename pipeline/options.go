package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/scribeflow/scribeflow/internal/database"
)

// TaskOptions is the decoded form of Task.OptionsJSON: language hint,
// speaker diarization flag, summary style, preferred ASR/LLM provider and
// model.
type TaskOptions struct {
	Language             string `json:"language,omitempty"`
	EnableDiarization    bool   `json:"enable_diarization,omitempty"`
	SummaryStyle         string `json:"summary_style,omitempty"`
	ContentStyle         string `json:"content_style,omitempty"`
	Locale               string `json:"locale,omitempty"`
	PreferredASRProvider string `json:"preferred_asr_provider,omitempty"`
	PreferredASRVariant  string `json:"preferred_asr_variant,omitempty"`
	PreferredLLMProvider string `json:"preferred_llm_provider,omitempty"`
	PreferredLLMModel    string `json:"preferred_llm_model,omitempty"`
	SummaryTypes         []string `json:"summary_types,omitempty"`
	VisualTypes          []string `json:"visual_types,omitempty"`
}

// DecodeOptions parses task.OptionsJSON, treating an empty string as the
// zero-value TaskOptions.
func DecodeOptions(task *database.Task) (TaskOptions, error) {
	var opts TaskOptions
	if task.OptionsJSON == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(task.OptionsJSON), &opts); err != nil {
		return opts, fmt.Errorf("pipeline: decode task options: %w", err)
	}
	return opts, nil
}

// EncodeOptions serializes opts for storage on Task.OptionsJSON.
func EncodeOptions(opts TaskOptions) (string, error) {
	b, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("pipeline: encode task options: %w", err)
	}
	return string(b), nil
}
