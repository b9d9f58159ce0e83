// Package summary implements the summary generator: the layered-prompt
// LLM fan-out that turns a task's preprocessed transcript block text into
// overview/key_points/action_items summaries, an optional chapter
// segmentation, and on-demand Mermaid visualizations, recording cost for
// every LLM call it makes through the selector/registry the rest of the
// pipeline already uses.
package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/cost"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/llm/tokenizer"
	"github.com/scribeflow/scribeflow/llmprovider"
	"github.com/scribeflow/scribeflow/pipeline"
	"github.com/scribeflow/scribeflow/registry"
	"github.com/scribeflow/scribeflow/resilience"
	"github.com/scribeflow/scribeflow/selector"
	"github.com/scribeflow/scribeflow/storage"
	"github.com/scribeflow/scribeflow/types"
)

// chapterSegmentationThreshold is the block-text length above which the
// generator attempts the optional chapter-segmentation call.
const chapterSegmentationThreshold = 2000

const promptVersion = "v1"

// PremiumModelOverrides maps a provider name to the model ID the
// generator requests when a transcript's quality classification is "low".
// A provider with no entry here is used as selected, unmodified.
var PremiumModelOverrides = map[string]string{
	"anthropic": "claude-opus-4-20250514",
	"openai":    "gpt-4o",
}

// ImageRenderer best-effort renders a Mermaid diagram source to an image.
// Rendering is optional and non-fatal: the generator persists the diagram
// source either way and only attaches an ImageKey on success.
type ImageRenderer interface {
	Render(ctx context.Context, diagramSource string) (data []byte, ext string, contentType string, err error)
}

// Deps wires the generator to the rest of the pipeline's shared
// infrastructure, mirroring pipeline.Deps' shape (selector + registry +
// breakers + cost + db + logger).
type Deps struct {
	DB        *gorm.DB
	Selector  *selector.Selector
	Registry  *registry.Registry
	Breakers  *resilience.Registry
	Cost      *cost.Tracker
	Templates *TemplateCatalog
	Storage   storageSelector // optional; required only for image uploads
	Images    ImageRenderer   // optional
	Cache     PromptCache     // optional; dedups chapter-segmentation calls
	Logger    *zap.Logger
}

// storageSelector is the narrow slice of Selector+Registry the generator
// needs to resolve a storage.Provider for rendered visualization images,
// kept separate from the LLM selection path above.
type storageSelector interface {
	ResolveStorage(ctx context.Context, owner string) (storage.Provider, error)
}

// Generator implements pipeline.SummaryGenerator.
type Generator struct {
	deps Deps
}

func New(deps Deps) *Generator {
	if deps.Templates == nil {
		deps.Templates = NewTemplateCatalog()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Generator{deps: deps}
}

// chapterSet is the structured response shape the chapters prompt asks the
// LLM to return as JSON.
type chapterSet struct {
	TotalChapters int       `json:"total_chapters"`
	Chapters      []chapter `json:"chapters"`
}

type chapter struct {
	Index       int     `json:"index"`
	Title       string  `json:"title"`
	StartOffset float64 `json:"start_offset"`
	EndOffset   float64 `json:"end_offset"`
	Summary     string  `json:"summary"`
}

// GenerateAll runs the full per-task summarization fan-out: optional
// chapter segmentation, then the three core summary types the task's
// options request, persisting one active Summary row per type.
func (g *Generator) GenerateAll(ctx context.Context, task *database.Task, opts pipeline.TaskOptions, blockText string, quality pipeline.TranscriptQuality) error {
	qualityNotice := ""
	if quality.Classification == "low" {
		qualityNotice = QualityCaveat
	}

	decision, provider, err := g.selectLLM(ctx, task, opts, quality, blockText)
	if err != nil {
		return fmt.Errorf("summarize: select llm: %w", err)
	}

	if len(blockText) > chapterSegmentationThreshold {
		if err := g.generateChapters(ctx, task, decision, provider, blockText, qualityNotice); err != nil {
			g.deps.Logger.Warn("summarize: chapter segmentation failed, continuing without chapters",
				zap.String("task_id", task.ID), zap.Error(err))
		}
	}

	summaryTypes := opts.SummaryTypes
	if len(summaryTypes) == 0 {
		summaryTypes = []string{"overview", "key_points", "action_items"}
	}
	for _, t := range summaryTypes {
		if err := g.generateCoreSummary(ctx, task, opts, decision, provider, t, blockText, qualityNotice); err != nil {
			return fmt.Errorf("summarize: generate %s: %w", t, err)
		}
	}
	return nil
}

// GenerateVisualization produces one Mermaid diagram summary on demand,
// reusing the same selection/prompt/persist machinery as GenerateAll but
// triggered independently of the main stage pipeline.
func (g *Generator) GenerateVisualization(ctx context.Context, task *database.Task, opts pipeline.TaskOptions, blockText string, quality pipeline.TranscriptQuality, visualType database.SummaryType) error {
	qualityNotice := ""
	if quality.Classification == "low" {
		qualityNotice = QualityCaveat
	}
	decision, provider, err := g.selectLLM(ctx, task, opts, quality, blockText)
	if err != nil {
		return fmt.Errorf("visualization: select llm: %w", err)
	}

	promptType := string(visualType)
	prompt := g.deps.Templates.Render(CategoryVisualization, promptType, opts.Locale, opts.SummaryStyle, blockText, qualityNotice)
	content, inputTokens, outputTokens, err := g.call(ctx, decision, provider, prompt)
	if err != nil {
		return fmt.Errorf("visualization: %w", err)
	}

	diagram := extractMermaid(content)
	if err := validateMermaid(visualType, diagram); err != nil {
		return fmt.Errorf("visualization: %w", err)
	}

	summary := database.Summary{
		TaskID: task.ID, SummaryType: visualType, Content: content,
		VisualFormat: "mermaid", VisualContent: diagram,
		ModelUsed: decision.ModelID, PromptVersion: promptVersion,
		TokenCount: inputTokens + outputTokens,
	}

	if g.deps.Images != nil {
		if data, ext, contentType, err := g.deps.Images.Render(ctx, diagram); err != nil {
			g.deps.Logger.Warn("visualization: image render failed, keeping diagram source only",
				zap.String("task_id", task.ID), zap.Error(err))
		} else if key, uploadErr := g.uploadImage(ctx, task, string(visualType), ext, contentType, data); uploadErr != nil {
			g.deps.Logger.Warn("visualization: image upload failed, keeping diagram source only",
				zap.String("task_id", task.ID), zap.Error(uploadErr))
		} else {
			summary.ImageKey = key
		}
	}

	if err := g.persist(ctx, task.ID, summary); err != nil {
		return fmt.Errorf("visualization: %w", err)
	}
	if g.deps.Cost != nil {
		_ = g.deps.Cost.Record(ctx, cost.Record{
			ServiceType: string(registry.ServiceLLM), Provider: decision.Provider, UserID: task.OwnerID,
			TaskID: task.ID, RequestID: task.ID, Tokens: inputTokens + outputTokens,
			CostEstimate: float64(provider.EstimateCost(inputTokens, outputTokens)),
		})
	}
	return nil
}

func (g *Generator) selectLLM(ctx context.Context, task *database.Task, opts pipeline.TaskOptions, quality pipeline.TranscriptQuality, blockText string) (selector.Decision, llmprovider.Provider, error) {
	req := selector.Request{
		ServiceType:       registry.ServiceLLM,
		Owner:             task.OwnerID,
		PreferredProvider: opts.PreferredLLMProvider,
		ModelID:           opts.PreferredLLMModel,
		// rough prompt-size estimate for the selector's relative cost
		// dimension; ~4 chars per token
		TokenCountHint: len(blockText) / 4,
	}
	decisionPtr, err := g.deps.Selector.Select(ctx, req)
	if err != nil {
		return selector.Decision{}, nil, err
	}
	decision := *decisionPtr

	modelID := decision.ModelID
	if quality.Classification == "low" && opts.PreferredLLMModel == "" {
		if override, ok := PremiumModelOverrides[decision.Provider]; ok {
			modelID = override
		}
	}

	client, err := g.deps.Registry.Instantiate(registry.ServiceLLM, decision.Provider, registry.Overrides{ModelID: modelID})
	if err != nil {
		return selector.Decision{}, nil, fmt.Errorf("instantiate %s: %w", decision.Provider, err)
	}
	provider, ok := client.(llmprovider.Provider)
	if !ok {
		return selector.Decision{}, nil, fmt.Errorf("%s does not implement llmprovider.Provider", decision.Provider)
	}
	decision.ModelID = modelID
	return decision, provider, nil
}

func (g *Generator) generateChapters(ctx context.Context, task *database.Task, decision selector.Decision, provider llmprovider.Provider, blockText, qualityNotice string) error {
	cacheKey := ""
	if g.deps.Cache != nil {
		cacheKey = chapterCacheKey(task.ID, blockText)
		if cached, ok, err := g.deps.Cache.Get(ctx, cacheKey); err == nil && ok {
			return g.persistChapters(ctx, task.ID, cached, decision.ModelID, 0)
		}
	}

	prompt := g.deps.Templates.Render(CategorySummary, "chapters", "en", "general", blockText, qualityNotice)
	content, inputTokens, outputTokens, err := g.call(ctx, decision, provider, prompt)
	if err != nil {
		return err
	}

	var parsed chapterSet
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return fmt.Errorf("parse chapter json: %w", err)
	}
	if g.deps.Cache != nil {
		_ = g.deps.Cache.Set(ctx, cacheKey, content, 24*time.Hour)
	}
	if g.deps.Cost != nil {
		_ = g.deps.Cost.Record(ctx, cost.Record{
			ServiceType: string(registry.ServiceLLM), Provider: decision.Provider, UserID: task.OwnerID,
			TaskID: task.ID, RequestID: task.ID, Tokens: inputTokens + outputTokens,
			CostEstimate: float64(provider.EstimateCost(inputTokens, outputTokens)),
		})
	}
	return g.persistChapters(ctx, task.ID, content, decision.ModelID, inputTokens+outputTokens)
}

func (g *Generator) persistChapters(ctx context.Context, taskID, content, modelUsed string, tokenCount int) error {
	return g.persist(ctx, taskID, database.Summary{
		TaskID: taskID, SummaryType: database.SummaryChapters, Content: content,
		ModelUsed: modelUsed, PromptVersion: promptVersion, TokenCount: tokenCount,
	})
}

func (g *Generator) generateCoreSummary(ctx context.Context, task *database.Task, opts pipeline.TaskOptions, decision selector.Decision, provider llmprovider.Provider, summaryType, blockText, qualityNotice string) error {
	prompt := g.deps.Templates.Render(CategorySummary, summaryType, opts.Locale, opts.SummaryStyle, blockText, qualityNotice)
	content, inputTokens, outputTokens, err := g.call(ctx, decision, provider, prompt)
	if err != nil {
		return err
	}

	if err := g.persist(ctx, task.ID, database.Summary{
		TaskID: task.ID, SummaryType: database.SummaryType(summaryType), Content: content,
		ModelUsed: decision.ModelID, PromptVersion: promptVersion, TokenCount: inputTokens + outputTokens,
	}); err != nil {
		return err
	}
	if g.deps.Cost != nil {
		_ = g.deps.Cost.Record(ctx, cost.Record{
			ServiceType: string(registry.ServiceLLM), Provider: decision.Provider, UserID: task.OwnerID,
			TaskID: task.ID, RequestID: task.ID, Tokens: inputTokens + outputTokens,
			CostEstimate: float64(provider.EstimateCost(inputTokens, outputTokens)),
		})
	}
	return nil
}

// call invokes the selected provider's Chat through its circuit breaker and
// returns the response content alongside the (estimated) token counts of the
// prompt and response, counted with the model's registered tokenizer (or a
// generic estimator, see llm/tokenizer.GetTokenizerOrEstimator).
func (g *Generator) call(ctx context.Context, decision selector.Decision, provider llmprovider.Provider, prompt string) (string, int, int, error) {
	messages := []types.Message{types.NewSystemMessage(summarizerSystemPrompt), types.NewUserMessage(prompt)}

	var content string
	callFn := func() error {
		c, err := provider.Chat(ctx, messages, llmprovider.Params{ModelID: decision.ModelID})
		if err != nil {
			return err
		}
		content = c
		return nil
	}

	var callErr error
	if g.deps.Breakers != nil {
		callErr = g.deps.Breakers.Get(string(registry.ServiceLLM), decision.Provider).Call(ctx, callFn)
	} else {
		callErr = callFn()
	}
	if callErr != nil {
		return "", 0, 0, callErr
	}

	tk := tokenizer.GetTokenizerOrEstimator(decision.ModelID)
	inputTokens, _ := tk.CountTokens(prompt)
	outputTokens, _ := tk.CountTokens(content)
	return content, inputTokens, outputTokens, nil
}

// persist archives the current active (task, summary_type) row, if any,
// and inserts the new one as the active version, keeping exactly one
// active row per (task, summary_type).
func (g *Generator) persist(ctx context.Context, taskID string, s database.Summary) error {
	return g.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev database.Summary
		err := tx.Where("task_id = ? AND summary_type = ? AND is_active = ?", taskID, s.SummaryType, true).
			Order("version desc").First(&prev).Error
		switch {
		case err == nil:
			s.Version = prev.Version + 1
			if updErr := tx.Model(&database.Summary{}).
				Where("task_id = ? AND summary_type = ? AND is_active = ?", taskID, s.SummaryType, true).
				Update("is_active", false).Error; updErr != nil {
				return updErr
			}
		case err == gorm.ErrRecordNotFound:
			s.Version = 1
		default:
			return err
		}
		s.IsActive = true
		return tx.Create(&s).Error
	})
}

func (g *Generator) uploadImage(ctx context.Context, task *database.Task, kind, ext, contentType string, data []byte) (string, error) {
	if g.deps.Storage == nil {
		return "", fmt.Errorf("no storage configured for image upload")
	}
	provider, err := g.deps.Storage.ResolveStorage(ctx, task.OwnerID)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("visuals/%s/%s/%s_%d.%s", task.OwnerID, task.ID, kind, time.Now().UnixNano(), ext)
	if err := provider.PutObject(ctx, key, strings.NewReader(string(data)), int64(len(data)), contentType); err != nil {
		return "", err
	}
	return key, nil
}

const summarizerSystemPrompt = "You produce concise, accurate summaries of spoken-word transcripts. Follow the user's formatting instructions exactly and do not add commentary outside what is requested."

func extractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start == -1 || end == -1 || end < start {
		return content
	}
	return content[start : end+1]
}

func extractMermaid(content string) string {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```mermaid")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// validateMermaid checks the diagram source begins with the directive
// Mermaid requires for the requested visualization type before it is
// persisted.
func validateMermaid(visualType database.SummaryType, diagram string) error {
	if diagram == "" {
		return fmt.Errorf("empty diagram source")
	}
	var want []string
	switch visualType {
	case database.SummaryVisualMindmap:
		want = []string{"mindmap"}
	case database.SummaryVisualTimeline:
		want = []string{"timeline"}
	case database.SummaryVisualFlowchart:
		want = []string{"flowchart", "graph"}
	default:
		return fmt.Errorf("unknown visualization type %q", visualType)
	}
	lower := strings.ToLower(diagram)
	for _, w := range want {
		if strings.HasPrefix(lower, w) {
			return nil
		}
	}
	return fmt.Errorf("diagram source does not start with expected directive %v", want)
}

func chapterCacheKey(taskID, blockText string) string {
	return fmt.Sprintf("chapters:%s:%d", taskID, len(blockText))
}
