package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeflow/scribeflow/internal/database"
)

// fakeVisualSummary extends fakeSummary with the visualization capability.
type fakeVisualSummary struct {
	fakeSummary
	visualCalls int
	visualType  database.SummaryType
	opts        TaskOptions
	visualErr   error
}

func (f *fakeVisualSummary) GenerateVisualization(ctx context.Context, task *database.Task, opts TaskOptions, blockText string, quality TranscriptQuality, visualType database.SummaryType) error {
	f.visualCalls++
	f.visualType = visualType
	f.opts = opts
	return f.visualErr
}

func seedVisualizationFixture(t *testing.T, deps Deps, gen *fakeVisualSummary) (*Orchestrator, *database.Task, *database.VisualizationJob) {
	t.Helper()
	deps.Summary = gen
	o := New(deps)

	task := database.Task{ID: uuid.NewString(), OwnerID: "user-1", Status: database.TaskCompleted, Progress: 100}
	require.NoError(t, deps.DB.Create(&task).Error)
	require.NoError(t, deps.DB.Create(&database.TranscriptSegment{
		TaskID: task.ID, SpeakerID: "spk_0", StartSec: 0, EndSec: 2, Content: "hello", Confidence: 0.9,
	}).Error)

	job := database.VisualizationJob{
		ID: uuid.NewString(), TaskID: task.ID, OwnerID: task.OwnerID,
		VisualType: database.SummaryVisualMindmap, ContentStyle: "meeting",
		Status: database.VisualJobPending,
	}
	require.NoError(t, deps.DB.Create(&job).Error)
	return o, &task, &job
}

func TestRunVisualizationCompletesJob(t *testing.T) {
	deps, _, _, _, transcriptFake, _, _, _ := newOrchestratorDeps(t)
	gen := &fakeVisualSummary{}
	o, _, job := seedVisualizationFixture(t, deps, gen)

	transcriptFake.blockText = "[spk_0] hello"
	transcriptFake.quality = TranscriptQuality{Classification: "high"}

	require.NoError(t, o.RunVisualization(context.Background(), job.ID))

	assert.Equal(t, 1, gen.visualCalls)
	assert.Equal(t, database.SummaryVisualMindmap, gen.visualType)
	assert.Equal(t, "meeting", gen.opts.ContentStyle)

	var reloaded database.VisualizationJob
	require.NoError(t, deps.DB.First(&reloaded, "id = ?", job.ID).Error)
	assert.Equal(t, database.VisualJobCompleted, reloaded.Status)
}

func TestRunVisualizationRecordsFailure(t *testing.T) {
	deps, _, _, _, _, _, _, _ := newOrchestratorDeps(t)
	gen := &fakeVisualSummary{visualErr: errors.New("llm unavailable")}
	o, _, job := seedVisualizationFixture(t, deps, gen)

	err := o.RunVisualization(context.Background(), job.ID)
	require.Error(t, err)

	var reloaded database.VisualizationJob
	require.NoError(t, deps.DB.First(&reloaded, "id = ?", job.ID).Error)
	assert.Equal(t, database.VisualJobFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "llm unavailable")
}

func TestRunVisualizationFailsWithoutTranscript(t *testing.T) {
	deps, _, _, _, _, _, _, _ := newOrchestratorDeps(t)
	gen := &fakeVisualSummary{}
	deps.Summary = gen
	o := New(deps)

	task := database.Task{ID: uuid.NewString(), OwnerID: "user-1", Status: database.TaskCompleted}
	require.NoError(t, deps.DB.Create(&task).Error)
	job := database.VisualizationJob{
		ID: uuid.NewString(), TaskID: task.ID, OwnerID: task.OwnerID,
		VisualType: database.SummaryVisualFlowchart, Status: database.VisualJobPending,
	}
	require.NoError(t, deps.DB.Create(&job).Error)

	err := o.RunVisualization(context.Background(), job.ID)
	require.Error(t, err)
	assert.Zero(t, gen.visualCalls)

	var reloaded database.VisualizationJob
	require.NoError(t, deps.DB.First(&reloaded, "id = ?", job.ID).Error)
	assert.Equal(t, database.VisualJobFailed, reloaded.Status)
}
