package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/scribeflow/scribeflow/internal/tlsutil"
)

// DeepgramProvider transcribes via the Deepgram listen API. It supports
// both uploaded-file and remote-URL sources and genuine diarization
// (speaker_N tags), which the Whisper provider lacks. Utterances are
// requested so the response arrives pre-segmented by speaker turn.
type DeepgramProvider struct {
	cfg    DeepgramConfig
	client *http.Client
}

func NewDeepgramProvider(cfg DeepgramConfig) *DeepgramProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepgram.com"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &DeepgramProvider{cfg: cfg, client: tlsutil.SecureHTTPClient(timeout)}
}

func (p *DeepgramProvider) Name() string { return "deepgram" }

func (p *DeepgramProvider) SupportsVariant(v Variant) bool {
	switch v {
	case VariantFile, VariantFileFast, VariantStreamAsync:
		return true
	default:
		return false
	}
}

// deepgramResponse is the slice of the listen API response this provider
// consumes: billed duration, the first channel's best alternative, and the
// diarized utterances.
type deepgramResponse struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Duration  float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
					Speaker    int     `json:"speaker,omitempty"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Start      float64 `json:"start"`
			End        float64 `json:"end"`
			Confidence float64 `json:"confidence"`
			Transcript string  `json:"transcript"`
			Speaker    int     `json:"speaker"`
		} `json:"utterances,omitempty"`
	} `json:"results"`
}

func (p *DeepgramProvider) Transcribe(ctx context.Context, source Source, opts Options) (*Result, error) {
	if source.Reader == nil && source.URL == "" {
		return nil, fmt.Errorf("%w: deepgram requires either an uploaded file or a URL", ErrInvalidFormat)
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}

	params := url.Values{}
	params.Set("model", model)
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	params.Set("utterances", "true")
	if lang := normalizeLanguage(opts.Language); lang != "" {
		params.Set("language", lang)
	}
	if opts.EnableDiarization {
		params.Set("diarize", "true")
	}

	endpoint := fmt.Sprintf("%s/v1/listen?%s", strings.TrimRight(p.cfg.BaseURL, "/"), params.Encode())

	var httpReq *http.Request
	var err error
	if source.URL != "" {
		payload, _ := json.Marshal(map[string]string{"url": source.URL})
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
	} else {
		audio, readErr := io.ReadAll(source.Reader)
		if readErr != nil {
			return nil, fmt.Errorf("%w: read audio: %v", ErrTransient, readErr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		contentType := source.ContentType
		if contentType == "" {
			contentType = "audio/*"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Authorization", "Token "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: deepgram request failed: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyVendorStatus("deepgram", resp.StatusCode, string(errBody))
	}

	var dResp deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dResp); err != nil {
		return nil, fmt.Errorf("%w: decode deepgram response: %v", ErrTransient, err)
	}
	return p.buildResult(&dResp, normalizeLanguage(opts.Language)), nil
}

// buildResult maps the vendor response onto the Result contract: one
// Segment per utterance (per speaker turn), word timestamps attached to
// their enclosing segment, and DurationSeconds from the billed duration —
// the value the quota pool is charged with.
func (p *DeepgramProvider) buildResult(dResp *deepgramResponse, language string) *Result {
	result := &Result{Language: language}

	for _, u := range dResp.Results.Utterances {
		result.Segments = append(result.Segments, Segment{
			SpeakerID:  speakerTag(u.Speaker),
			StartSec:   u.Start,
			EndSec:     u.End,
			Content:    u.Transcript,
			Confidence: u.Confidence,
		})
	}

	if len(dResp.Results.Channels) > 0 && len(dResp.Results.Channels[0].Alternatives) > 0 {
		alt := dResp.Results.Channels[0].Alternatives[0]
		if len(result.Segments) == 0 && alt.Transcript != "" {
			result.Segments = append(result.Segments, Segment{
				StartSec:   0,
				EndSec:     dResp.Metadata.Duration,
				Content:    alt.Transcript,
				Confidence: alt.Confidence,
			})
		}
		for _, w := range alt.Words {
			idx := wordSegmentIndex(result.Segments, w.Start)
			if idx < 0 {
				continue
			}
			result.Segments[idx].Words = append(result.Segments[idx].Words, Word{
				Word:       w.Word,
				StartSec:   w.Start,
				EndSec:     w.End,
				Confidence: w.Confidence,
			})
		}
	}

	result.DurationSeconds = dResp.Metadata.Duration
	if result.DurationSeconds <= 0 && len(result.Segments) > 0 {
		result.DurationSeconds = result.Segments[len(result.Segments)-1].EndSec
	}
	return result
}

// speakerTag renders Deepgram's numeric speaker index as the opaque tag
// the transcript processor groups on. Index 0 is a real speaker.
func speakerTag(speaker int) string {
	return fmt.Sprintf("speaker_%d", speaker)
}

// wordSegmentIndex finds the segment whose time range contains wordStart.
func wordSegmentIndex(segments []Segment, wordStart float64) int {
	for i, s := range segments {
		if wordStart >= s.StartSec && wordStart <= s.EndSec {
			return i
		}
	}
	return -1
}
