// visualization.go runs queued visualization jobs. Visualization is its own
// pipeline, triggered per request against an already-completed task, so it
// reads the persisted transcript instead of re-running the stage sequence.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/internal/database"
)

// VisualizationGenerator is the optional capability a SummaryGenerator may
// additionally implement; summary.Generator does.
type VisualizationGenerator interface {
	GenerateVisualization(ctx context.Context, task *database.Task, opts TaskOptions, blockText string, quality TranscriptQuality, visualType database.SummaryType) error
}

// RunVisualization executes one queued visualization job end to end:
// load task and transcript, preprocess, generate and persist the diagram
// summary, and record the job's terminal status.
func (o *Orchestrator) RunVisualization(ctx context.Context, jobID string) error {
	var job database.VisualizationJob
	if err := o.deps.DB.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return fmt.Errorf("load visualization job %s: %w", jobID, err)
	}

	gen, ok := o.deps.Summary.(VisualizationGenerator)
	if !ok {
		return o.failVisualization(ctx, &job, fmt.Errorf("summary generator does not support visualization"))
	}

	if err := o.deps.DB.WithContext(ctx).Model(&job).Update("status", database.VisualJobRunning).Error; err != nil {
		return fmt.Errorf("mark visualization job running: %w", err)
	}

	task, err := o.loadTask(ctx, job.TaskID)
	if err != nil {
		return o.failVisualization(ctx, &job, err)
	}

	opts, err := DecodeOptions(task)
	if err != nil {
		return o.failVisualization(ctx, &job, err)
	}
	if job.ContentStyle != "" {
		opts.ContentStyle = job.ContentStyle
	}
	if job.Provider != "" {
		opts.PreferredLLMProvider = job.Provider
	}
	if job.ModelID != "" {
		opts.PreferredLLMModel = job.ModelID
	}

	var segments []database.TranscriptSegment
	if err := o.deps.DB.WithContext(ctx).Where("task_id = ?", task.ID).Order("start_sec asc").Find(&segments).Error; err != nil {
		return o.failVisualization(ctx, &job, fmt.Errorf("load segments: %w", err))
	}
	if len(segments) == 0 {
		return o.failVisualization(ctx, &job, fmt.Errorf("task %s has no transcript to visualize", task.ID))
	}

	blockText, quality := o.deps.Transcript.Preprocess(segments, opts.Language)

	deadline, ok := o.deps.StageDeadlines[database.StageSummarize]
	if ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	if err := gen.GenerateVisualization(ctx, task, opts, blockText, quality, job.VisualType); err != nil {
		return o.failVisualization(ctx, &job, err)
	}

	if err := o.deps.DB.WithContext(ctx).Model(&job).Update("status", database.VisualJobCompleted).Error; err != nil {
		return fmt.Errorf("mark visualization job completed: %w", err)
	}
	o.deps.Logger.Info("visualization job completed",
		zap.String("job_id", job.ID), zap.String("task_id", job.TaskID), zap.String("visual_type", string(job.VisualType)))
	return nil
}

func (o *Orchestrator) failVisualization(ctx context.Context, job *database.VisualizationJob, cause error) error {
	o.deps.Logger.Warn("visualization job failed",
		zap.String("job_id", job.ID), zap.String("task_id", job.TaskID), zap.Error(cause))
	if err := o.deps.DB.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":        database.VisualJobFailed,
		"error_message": cause.Error(),
	}).Error; err != nil {
		return fmt.Errorf("mark visualization job failed: %w", err)
	}
	return cause
}
