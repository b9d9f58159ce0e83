package summary

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/llmprovider"
	"github.com/scribeflow/scribeflow/pipeline"
	"github.com/scribeflow/scribeflow/registry"
	"github.com/scribeflow/scribeflow/selector"
	"github.com/scribeflow/scribeflow/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.AllModels()...))
	return db
}

// fakeLLM returns canned responses, optionally one per call in order, and
// records every prompt it is handed.
type fakeLLM struct {
	responses []string
	calls     int
	prompts   []string
	err       error
}

func (f *fakeLLM) Chat(ctx context.Context, messages []types.Message, params llmprovider.Params) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	for _, m := range messages {
		if m.Role == types.RoleUser {
			f.prompts = append(f.prompts, m.Content)
		}
	}
	resp := f.responses[f.calls%len(f.responses)]
	f.calls++
	return resp, nil
}
func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llmprovider.Params) (string, error) {
	return f.Chat(ctx, []types.Message{types.NewUserMessage(prompt)}, params)
}
func (f *fakeLLM) ChatStream(ctx context.Context, messages []types.Message, params llmprovider.Params) (<-chan llmprovider.StreamChunk, error) {
	return nil, llmprovider.ErrStreamingUnsupported
}
func (f *fakeLLM) ModelName() string { return "fake-model" }
func (f *fakeLLM) EstimateCost(inputTokens, outputTokens int) llmprovider.Money {
	return llmprovider.Money(inputTokens+outputTokens) * 0.0001
}

func newTestGenerator(t *testing.T, llm *fakeLLM) (*Generator, *gorm.DB) {
	db := newTestDB(t)
	reg := registry.New()
	reg.Register(registry.Metadata{ServiceType: registry.ServiceLLM, Name: "testllm", DefaultModel: "fake-model"},
		func(registry.Overrides) (any, error) { return llm, nil })
	sel := selector.New(reg, nil, nil, nil, nil, zap.NewNop())

	gen := New(Deps{
		DB:       db,
		Selector: sel,
		Registry: reg,
		Logger:   zap.NewNop(),
	})
	return gen, db
}

func newTestTask(t *testing.T, db *gorm.DB) *database.Task {
	task := &database.Task{ID: "task-1", OwnerID: "user-1", Status: database.TaskSummarizing}
	require.NoError(t, db.Create(task).Error)
	return task
}

func TestGenerateAll_PersistsThreeCoreSummaries(t *testing.T) {
	llm := &fakeLLM{responses: []string{"the overview", "the key points", "the action items"}}
	gen, db := newTestGenerator(t, llm)
	task := newTestTask(t, db)

	err := gen.GenerateAll(context.Background(), task, pipeline.TaskOptions{}, "short transcript block", pipeline.TranscriptQuality{Classification: "high"})
	require.NoError(t, err)

	var rows []database.Summary
	require.NoError(t, db.Where("task_id = ?", task.ID).Find(&rows).Error)
	require.Len(t, rows, 3)
	for _, r := range rows {
		require.True(t, r.IsActive)
		require.Equal(t, 1, r.Version)
	}
}

func TestGenerateAll_LowQualityInjectsCaveatIntoPrompt(t *testing.T) {
	llm := &fakeLLM{responses: []string{"overview", "key points", "action items"}}
	gen, db := newTestGenerator(t, llm)
	task := newTestTask(t, db)

	err := gen.GenerateAll(context.Background(), task, pipeline.TaskOptions{}, "short transcript", pipeline.TranscriptQuality{Classification: "low"})
	require.NoError(t, err)
	require.NotEmpty(t, llm.prompts)
	for _, p := range llm.prompts {
		require.Contains(t, p, QualityCaveat)
	}
}

func TestGenerateAll_ChaptersSkippedBelowThreshold(t *testing.T) {
	llm := &fakeLLM{responses: []string{"overview", "key points", "action items"}}
	gen, db := newTestGenerator(t, llm)
	task := newTestTask(t, db)

	err := gen.GenerateAll(context.Background(), task, pipeline.TaskOptions{}, "short", pipeline.TranscriptQuality{Classification: "high"})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&database.Summary{}).Where("task_id = ? AND summary_type = ?", task.ID, database.SummaryChapters).Count(&count).Error)
	require.Zero(t, count)
}

func TestGenerateAll_ChaptersGeneratedAboveThresholdAndNonFatalOnBadJSON(t *testing.T) {
	longText := ""
	for i := 0; i < 500; i++ {
		longText += "word "
	}
	llm := &fakeLLM{responses: []string{"not valid json", "overview", "key points", "action items"}}
	gen, db := newTestGenerator(t, llm)
	task := newTestTask(t, db)

	err := gen.GenerateAll(context.Background(), task, pipeline.TaskOptions{}, longText, pipeline.TranscriptQuality{Classification: "high"})
	require.NoError(t, err, "chapter segmentation failure must not fail the whole summarize step")

	var count int64
	require.NoError(t, db.Model(&database.Summary{}).Where("task_id = ? AND summary_type = ?", task.ID, database.SummaryChapters).Count(&count).Error)
	require.Zero(t, count)

	var overviewCount int64
	require.NoError(t, db.Model(&database.Summary{}).Where("task_id = ? AND summary_type = ?", task.ID, database.SummaryOverview).Count(&overviewCount).Error)
	require.Equal(t, int64(1), overviewCount)
}

func TestGenerateAll_SelectedSummaryTypesSubset(t *testing.T) {
	llm := &fakeLLM{responses: []string{"just the overview"}}
	gen, db := newTestGenerator(t, llm)
	task := newTestTask(t, db)

	err := gen.GenerateAll(context.Background(), task, pipeline.TaskOptions{SummaryTypes: []string{"overview"}}, "text", pipeline.TranscriptQuality{Classification: "high"})
	require.NoError(t, err)

	var rows []database.Summary
	require.NoError(t, db.Where("task_id = ?", task.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, database.SummaryOverview, rows[0].SummaryType)
}

func TestPersist_ArchivesPreviousActiveVersionOnRegeneration(t *testing.T) {
	llm := &fakeLLM{responses: []string{"v1 overview", "v2 overview"}}
	gen, db := newTestGenerator(t, llm)
	task := newTestTask(t, db)

	opts := pipeline.TaskOptions{SummaryTypes: []string{"overview"}}
	require.NoError(t, gen.GenerateAll(context.Background(), task, opts, "text", pipeline.TranscriptQuality{Classification: "high"}))
	require.NoError(t, gen.GenerateAll(context.Background(), task, opts, "text", pipeline.TranscriptQuality{Classification: "high"}))

	var rows []database.Summary
	require.NoError(t, db.Where("task_id = ? AND summary_type = ?", task.ID, database.SummaryOverview).Order("version asc").Find(&rows).Error)
	require.Len(t, rows, 2)
	require.False(t, rows[0].IsActive)
	require.True(t, rows[1].IsActive)
	require.Equal(t, 1, rows[0].Version)
	require.Equal(t, 2, rows[1].Version)
}

func TestGenerateVisualization_ValidatesMermaidDirective(t *testing.T) {
	llm := &fakeLLM{responses: []string{"not a diagram at all"}}
	gen, db := newTestGenerator(t, llm)
	task := newTestTask(t, db)

	err := gen.GenerateVisualization(context.Background(), task, pipeline.TaskOptions{}, "text", pipeline.TranscriptQuality{Classification: "high"}, database.SummaryVisualMindmap)
	require.Error(t, err)
}

func TestGenerateVisualization_PersistsValidDiagram(t *testing.T) {
	llm := &fakeLLM{responses: []string{"```mermaid\nmindmap\n  root((topic))\n```"}}
	gen, db := newTestGenerator(t, llm)
	task := newTestTask(t, db)

	err := gen.GenerateVisualization(context.Background(), task, pipeline.TaskOptions{}, "text", pipeline.TranscriptQuality{Classification: "high"}, database.SummaryVisualMindmap)
	require.NoError(t, err)

	var row database.Summary
	require.NoError(t, db.Where("task_id = ? AND summary_type = ?", task.ID, database.SummaryVisualMindmap).First(&row).Error)
	require.Equal(t, "mermaid", row.VisualFormat)
	require.Contains(t, row.VisualContent, "mindmap")
}

func TestValidateMermaid_RejectsWrongDirective(t *testing.T) {
	err := validateMermaid(database.SummaryVisualTimeline, "mindmap\n  root((x))")
	require.Error(t, err)
}

func TestValidateMermaid_AcceptsGraphForFlowchart(t *testing.T) {
	err := validateMermaid(database.SummaryVisualFlowchart, "graph TD\n  A --> B")
	require.NoError(t, err)
}

func TestSelectLLM_AppliesPremiumOverrideOnLowQuality(t *testing.T) {
	llm := &fakeLLM{responses: []string{"x"}}
	db := newTestDB(t)
	reg := registry.New()
	reg.Register(registry.Metadata{ServiceType: registry.ServiceLLM, Name: "anthropic", DefaultModel: "claude-haiku"},
		func(registry.Overrides) (any, error) { return llm, nil })
	sel := selector.New(reg, nil, nil, nil, nil, zap.NewNop())
	gen := New(Deps{DB: db, Selector: sel, Registry: reg, Logger: zap.NewNop()})

	task := newTestTask(t, db)
	decision, _, err := gen.selectLLM(context.Background(), task, pipeline.TaskOptions{}, pipeline.TranscriptQuality{Classification: "low"}, "text")
	require.NoError(t, err)
	require.Equal(t, PremiumModelOverrides["anthropic"], decision.ModelID)
}

func TestSelectLLM_PreferredModelOverridesPremiumSwap(t *testing.T) {
	llm := &fakeLLM{responses: []string{"x"}}
	db := newTestDB(t)
	reg := registry.New()
	reg.Register(registry.Metadata{ServiceType: registry.ServiceLLM, Name: "anthropic", DefaultModel: "claude-haiku"},
		func(registry.Overrides) (any, error) { return llm, nil })
	sel := selector.New(reg, nil, nil, nil, nil, zap.NewNop())
	gen := New(Deps{DB: db, Selector: sel, Registry: reg, Logger: zap.NewNop()})

	task := newTestTask(t, db)
	decision, _, err := gen.selectLLM(context.Background(), task, pipeline.TaskOptions{PreferredLLMModel: "claude-haiku"}, pipeline.TranscriptQuality{Classification: "low"}, "text")
	require.NoError(t, err)
	require.Equal(t, "claude-haiku", decision.ModelID)
}

func TestExtractJSON_TrimsSurroundingProse(t *testing.T) {
	content := fmt.Sprintf("Sure, here it is:\n%s\nThanks!", `{"total_chapters": 1, "chapters": []}`)
	got := extractJSON(content)
	require.Equal(t, `{"total_chapters": 1, "chapters": []}`, got)
}

func TestExtractMermaid_StripsCodeFence(t *testing.T) {
	got := extractMermaid("```mermaid\nflowchart TD\n  A-->B\n```")
	require.Equal(t, "flowchart TD\n  A-->B", got)
}
