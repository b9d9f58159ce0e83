// Package pipeline implements the stage machine (this file) and the
// pipeline orchestrator (orchestrator.go/actions.go): one persisted
// attempt record per stage, is_active archiving on retry, and the fixed
// six-stage execution order the orchestrator walks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/internal/database"
)

// ErrProgressRegression guards the monotonic-progress invariant: progress
// never decreases while the task's status is not failed.
var ErrProgressRegression = errors.New("pipeline: progress cannot decrease")

// stageStatusMap assigns each stage to the observable Task.Status it
// drives while running.
var stageStatusMap = map[database.StageType]database.TaskStatus{
	database.StageResolve:       database.TaskExtracting,
	database.StageDownload:      database.TaskExtracting,
	database.StageTranscode:     database.TaskExtracting,
	database.StageUploadStorage: database.TaskExtracting,
	database.StageTranscribe:    database.TaskTranscribing,
	database.StageSummarize:     database.TaskSummarizing,
}

// progressBands gives the [low, high] percent band for each observable
// status ("Progress bands").
var progressBands = map[database.TaskStatus][2]int{
	database.TaskPending:      {0, 0},
	database.TaskExtracting:   {0, 20},
	database.TaskTranscribing: {20, 70},
	database.TaskSummarizing:  {70, 99},
	database.TaskCompleted:    {100, 100},
	database.TaskFailed:       {0, 100}, // failed freezes wherever progress stood
}

// StatusForStage returns the observable Task.Status a stage drives.
func StatusForStage(stageType database.StageType) database.TaskStatus {
	return stageStatusMap[stageType]
}

// ProgressBand returns the [low, high] percent band for status.
func ProgressBand(status database.TaskStatus) (int, int) {
	b, ok := progressBands[status]
	if !ok {
		return 0, 0
	}
	return b[0], b[1]
}

// StageMachine persists TaskStage attempts and advances
// Task.Status/Progress under the monotone-progress and
// active-prefix invariants.
type StageMachine struct {
	db    *gorm.DB
	nowFn func() time.Time
}

func NewStageMachine(db *gorm.DB) *StageMachine {
	return &StageMachine{db: db, nowFn: time.Now}
}

// ActiveStage returns the current is_active row for (taskID, stageType), if
// any.
func (m *StageMachine) ActiveStage(ctx context.Context, taskID string, stageType database.StageType) (*database.TaskStage, error) {
	var row database.TaskStage
	err := m.db.WithContext(ctx).
		Where("task_id = ? AND stage_type = ? AND is_active = ?", taskID, stageType, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: load active stage: %w", err)
	}
	return &row, nil
}

// IsCompleted reports whether the active row for (taskID, stageType) is
// already completed — the idempotency check the orchestrator uses to
// short-circuit a stage on crash-resume ("Idempotency").
func (m *StageMachine) IsCompleted(ctx context.Context, taskID string, stageType database.StageType) (bool, error) {
	row, err := m.ActiveStage(ctx, taskID, stageType)
	if err != nil {
		return false, err
	}
	return row != nil && row.Status == database.StageCompleted, nil
}

// StartStage archives any existing active row for (taskID, stageType) and
// inserts a fresh running row, returning its attempt id. A retried stage
// always gets a new attempt id; the previous row is archived, never
// mutated, preserving an audit trail of every attempt.
func (m *StageMachine) StartStage(ctx context.Context, taskID string, stageType database.StageType) (*database.TaskStage, error) {
	var row *database.TaskStage
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.TaskStage{}).
			Where("task_id = ? AND stage_type = ? AND is_active = ?", taskID, stageType, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		now := m.nowFn()
		row = &database.TaskStage{
			TaskID:    taskID,
			StageType: stageType,
			AttemptID: uuid.NewString(),
			Status:    database.StageRunning,
			IsActive:  true,
			StartedAt: &now,
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: start stage %s: %w", stageType, err)
	}
	return row, nil
}

// CompleteStage marks the given attempt completed.
func (m *StageMachine) CompleteStage(ctx context.Context, attemptID string) error {
	now := m.nowFn()
	res := m.db.WithContext(ctx).Model(&database.TaskStage{}).
		Where("attempt_id = ?", attemptID).
		Updates(map[string]interface{}{"status": database.StageCompleted, "completed_at": now})
	if res.Error != nil {
		return fmt.Errorf("pipeline: complete stage attempt %s: %w", attemptID, res.Error)
	}
	return nil
}

// FailStage marks the given attempt failed with errMsg.
func (m *StageMachine) FailStage(ctx context.Context, attemptID, errMsg string) error {
	now := m.nowFn()
	res := m.db.WithContext(ctx).Model(&database.TaskStage{}).
		Where("attempt_id = ?", attemptID).
		Updates(map[string]interface{}{"status": database.StageFailed, "completed_at": now, "error_message": errMsg})
	if res.Error != nil {
		return fmt.Errorf("pipeline: fail stage attempt %s: %w", attemptID, res.Error)
	}
	return nil
}

// SkipStage records a stage that does not apply to this task (e.g. resolve
// for an uploaded, non-URL source).
func (m *StageMachine) SkipStage(ctx context.Context, taskID string, stageType database.StageType) error {
	now := m.nowFn()
	row := database.TaskStage{
		TaskID: taskID, StageType: stageType, AttemptID: uuid.NewString(),
		Status: database.StageSkipped, IsActive: true, StartedAt: &now, CompletedAt: &now,
	}
	if err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.TaskStage{}).
			Where("task_id = ? AND stage_type = ? AND is_active = ?", taskID, stageType, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	}); err != nil {
		return fmt.Errorf("pipeline: skip stage %s: %w", stageType, err)
	}
	return nil
}

// AdvanceProgress sets Task.Status/Progress, rejecting a decrease unless
// the new status is failed.
func (m *StageMachine) AdvanceProgress(ctx context.Context, taskID string, status database.TaskStatus, progress int) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task database.Task
		if err := tx.Where("id = ?", taskID).First(&task).Error; err != nil {
			return fmt.Errorf("pipeline: load task %s: %w", taskID, err)
		}
		if status != database.TaskFailed && progress < task.Progress {
			return fmt.Errorf("%w: task %s at %d%%, got %d%%", ErrProgressRegression, taskID, task.Progress, progress)
		}
		return tx.Model(&task).Updates(map[string]interface{}{"status": status, "progress": progress}).Error
	})
}

// FailTask terminates the task with status=failed and the given message,
// bypassing the monotonic-progress check; a failed status is terminal.
func (m *StageMachine) FailTask(ctx context.Context, taskID, errMsg string) error {
	res := m.db.WithContext(ctx).Model(&database.Task{}).Where("id = ?", taskID).
		Updates(map[string]interface{}{"status": database.TaskFailed, "error_message": errMsg})
	if res.Error != nil {
		return fmt.Errorf("pipeline: fail task %s: %w", taskID, res.Error)
	}
	return nil
}
