package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/scribeflow/scribeflow/internal/tlsutil"
)

// OpenAIProvider transcribes via the OpenAI Whisper API. Only the "file"
// variant is meaningful — Whisper has no expedited lane, so file_fast is
// treated as an alias of file, which keeps the selector's
// file_fast-then-file preference order harmless rather than an error.
// Whisper has no diarization either; SpeakerID is always empty.
type OpenAIProvider struct {
	cfg    WhisperConfig
	client *http.Client
}

func NewOpenAIProvider(cfg WhisperConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIProvider{cfg: cfg, client: tlsutil.SecureHTTPClient(timeout)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsVariant(v Variant) bool {
	return v == VariantFile || v == VariantFileFast
}

// whisperResponse is the verbose_json shape with segment- and word-level
// timestamps requested.
type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Segments []struct {
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob,omitempty"`
		NoSpeechProb float64 `json:"no_speech_prob,omitempty"`
	} `json:"segments,omitempty"`
	Words []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words,omitempty"`
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, source Source, opts Options) (*Result, error) {
	if source.Reader == nil {
		return nil, fmt.Errorf("%w: openai provider requires an uploaded file, got a URL source", ErrInvalidFormat)
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", uploadFilename(source.ContentType))
	if err != nil {
		return nil, fmt.Errorf("%w: create form file: %v", ErrTransient, err)
	}
	if _, err := io.Copy(part, source.Reader); err != nil {
		return nil, fmt.Errorf("%w: copy audio: %v", ErrTransient, err)
	}
	_ = writer.WriteField("model", model)
	if lang := normalizeLanguage(opts.Language); lang != "" {
		_ = writer.WriteField("language", lang)
	}
	if opts.Prompt != "" {
		_ = writer.WriteField("prompt", opts.Prompt)
	}
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("timestamp_granularities[]", "segment")
	_ = writer.WriteField("timestamp_granularities[]", "word")
	writer.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: whisper request failed: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyVendorStatus("openai", resp.StatusCode, string(errBody))
	}

	var wResp whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wResp); err != nil {
		return nil, fmt.Errorf("%w: decode whisper response: %v", ErrTransient, err)
	}
	return buildWhisperResult(&wResp), nil
}

// buildWhisperResult maps the verbose_json response onto the Result
// contract. Whisper reports no confidence value directly, so one is
// derived per segment from avg_logprob/no_speech_prob — the transcript
// quality classification depends on having it.
func buildWhisperResult(wResp *whisperResponse) *Result {
	result := &Result{Language: wResp.Language}

	for _, s := range wResp.Segments {
		result.Segments = append(result.Segments, Segment{
			StartSec:   s.Start,
			EndSec:     s.End,
			Content:    s.Text,
			Confidence: whisperConfidence(s.AvgLogprob, s.NoSpeechProb),
		})
	}
	if len(result.Segments) == 0 && wResp.Text != "" {
		result.Segments = append(result.Segments, Segment{
			StartSec: 0,
			EndSec:   wResp.Duration,
			Content:  wResp.Text,
		})
	}
	for _, w := range wResp.Words {
		idx := wordSegmentIndex(result.Segments, w.Start)
		if idx < 0 {
			continue
		}
		result.Segments[idx].Words = append(result.Segments[idx].Words, Word{
			Word:     w.Word,
			StartSec: w.Start,
			EndSec:   w.End,
		})
	}

	result.DurationSeconds = wResp.Duration
	if result.DurationSeconds <= 0 && len(result.Segments) > 0 {
		result.DurationSeconds = result.Segments[len(result.Segments)-1].EndSec
	}
	return result
}

// whisperConfidence derives a [0,1] confidence from Whisper's per-segment
// token statistics: e^avg_logprob is the mean token probability, scaled
// down by the probability the segment is not speech at all.
func whisperConfidence(avgLogprob, noSpeechProb float64) float64 {
	c := math.Exp(avgLogprob) * (1 - noSpeechProb)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// uploadFilename gives the multipart file part an extension matching the
// payload so Whisper's container sniffing has a hint to work with.
func uploadFilename(contentType string) string {
	switch contentType {
	case "audio/flac":
		return "audio.flac"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mp4", "video/mp4":
		return "audio.mp4"
	case "audio/webm", "video/webm":
		return "audio.webm"
	default:
		return "audio.mp3"
	}
}
