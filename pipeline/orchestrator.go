// orchestrator.go implements the pipeline orchestrator: drives one task
// through the canonical stage order, requesting a provider through the
// selector at each vendor-backed stage, wrapping every vendor call in
// retry + circuit breaker, and reporting progress through a publisher.
// The worker-pool fan-out across concurrently running tasks uses
// golang.org/x/sync/errgroup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/asr"
	"github.com/scribeflow/scribeflow/cost"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/quota"
	"github.com/scribeflow/scribeflow/registry"
	"github.com/scribeflow/scribeflow/resilience"
	"github.com/scribeflow/scribeflow/selector"
	"github.com/scribeflow/scribeflow/storage"
)

// ErrCancelled is the error recorded on task.error_message when an external
// cancellation flag is observed.
var ErrCancelled = errors.New("cancelled")

// ProgressEventType enumerates the event kinds the orchestrator
// publishes: progress, stage, completed, error.
type ProgressEventType string

const (
	EventStage    ProgressEventType = "stage"
	EventProgress ProgressEventType = "progress"
	EventCompleted ProgressEventType = "completed"
	EventError    ProgressEventType = "error"
)

// ProgressEvent is published once per stage transition.
type ProgressEvent struct {
	TaskID    string
	Type      ProgressEventType
	StageType database.StageType
	Status    database.TaskStatus
	Progress  int
	Message   string
}

// ProgressPublisher decouples the orchestrator from the broadcast package's
// transport concerns; broadcast.Hub satisfies this interface.
type ProgressPublisher interface {
	Publish(ctx context.Context, taskID string, event ProgressEvent)
}

// TranscriptQuality is the C11 quality classification consumed by summarize.
type TranscriptQuality struct {
	AverageConfidence  float64
	LowConfidenceRatio float64
	Classification     string // high | medium | low
}

// TranscriptProcessor decouples the orchestrator from package transcript.
type TranscriptProcessor interface {
	Preprocess(segments []database.TranscriptSegment, language string) (blockText string, quality TranscriptQuality)
}

// SummaryGenerator decouples the orchestrator from package summary.
type SummaryGenerator interface {
	GenerateAll(ctx context.Context, task *database.Task, opts TaskOptions, blockText string, quality TranscriptQuality) error
}

// CancellationChecker reports whether external cancellation has been
// requested for a task (e.g. a soft-delete flag or admin-stop marker).
type CancellationChecker func(ctx context.Context, taskID string) (bool, error)

// Deps bundles every collaborator the orchestrator drives.
type Deps struct {
	DB       *gorm.DB
	Stage    *StageMachine
	Selector *selector.Selector
	Quota    *quota.Manager
	Cost     *cost.Tracker
	Registry *registry.Registry
	Breakers *resilience.Registry

	SourceStorage storage.Provider // fixed ingestion bucket for uploaded sources

	Resolver   Resolver
	Downloader Downloader
	Transcoder Transcoder

	Transcript TranscriptProcessor
	Summary    SummaryGenerator
	Publisher  ProgressPublisher

	IsCancelled CancellationChecker

	RetryPolicy      resilience.RetryPolicy
	MaxDownloadBytes int64
	StageDeadlines   map[database.StageType]time.Duration

	Logger *zap.Logger
}

// defaultStageDeadlines bounds each vendor-backed stage's wall-clock time.
func defaultStageDeadlines() map[database.StageType]time.Duration {
	return map[database.StageType]time.Duration{
		database.StageResolve:       30 * time.Second,
		database.StageDownload:      10 * time.Minute,
		database.StageTranscode:     10 * time.Minute,
		database.StageUploadStorage: 5 * time.Minute,
		database.StageTranscribe:    30 * time.Minute,
		database.StageSummarize:     5 * time.Minute,
	}
}

// Orchestrator drives tasks through the stage machine.
type Orchestrator struct {
	deps Deps
}

func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Resolver == nil {
		deps.Resolver = NewHTTPResolver()
	}
	if deps.Downloader == nil {
		deps.Downloader = NewHTTPDownloader()
	}
	if deps.Transcoder == nil {
		deps.Transcoder = NewFFmpegTranscoder()
	}
	if deps.MaxDownloadBytes <= 0 {
		deps.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	if deps.StageDeadlines == nil {
		deps.StageDeadlines = defaultStageDeadlines()
	}
	if deps.RetryPolicy.MaxAttempts <= 0 {
		deps.RetryPolicy = resilience.DefaultRetryPolicy()
	}
	if deps.IsCancelled == nil {
		deps.IsCancelled = func(context.Context, string) (bool, error) { return false, nil }
	}
	return &Orchestrator{deps: deps}
}

// runState threads process-local artifacts (temp file paths, not persisted)
// through one Run call; a crash mid-task simply re-downloads/re-transcodes
// on resume, since only completed-stage *outputs* (storage key, segments)
// are durable.
type runState struct {
	localRawPath       string
	localCanonicalPath string
	contentType        string
	ext                string
	rawSHA256          string
}

func (s *runState) cleanup() {
	if s.localRawPath != "" {
		os.Remove(s.localRawPath)
	}
	if s.localCanonicalPath != "" {
		os.Remove(s.localCanonicalPath)
	}
}

// Run drives taskID through every remaining stage, resuming from whatever
// the stage machine reports as already completed.
func (o *Orchestrator) Run(ctx context.Context, taskID string) error {
	task, err := o.loadTask(ctx, taskID)
	if err != nil {
		return err
	}

	state := &runState{}
	defer state.cleanup()

	for _, stageType := range database.CanonicalStageOrder {
		if stageType == database.StageResolve && task.SourceType != "url" {
			if err := o.deps.Stage.SkipStage(ctx, taskID, stageType); err != nil {
				return err
			}
			continue
		}

		cancelled, err := o.deps.IsCancelled(ctx, taskID)
		if err != nil {
			return err
		}
		if cancelled {
			return o.abort(ctx, task, ErrCancelled.Error())
		}

		done, err := o.deps.Stage.IsCompleted(ctx, taskID, stageType)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		if err := o.runStage(ctx, task, state, stageType); err != nil {
			_ = o.abort(ctx, task, err.Error())
			return err
		}
	}

	if err := o.deps.Stage.AdvanceProgress(ctx, taskID, database.TaskCompleted, 100); err != nil {
		return err
	}
	o.publish(ctx, task, ProgressEvent{Type: EventCompleted, Status: database.TaskCompleted, Progress: 100})
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, task *database.Task, state *runState, stageType database.StageType) error {
	attempt, err := o.deps.Stage.StartStage(ctx, task.ID, stageType)
	if err != nil {
		return err
	}

	status := StatusForStage(stageType)
	low, _ := ProgressBand(status)
	o.publish(ctx, task, ProgressEvent{Type: EventStage, StageType: stageType, Status: status, Progress: low})

	deadline := o.deps.StageDeadlines[stageType]
	stageCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	execErr := resilience.Do(stageCtx, o.deps.RetryPolicy, o.deps.Logger, func() error {
		if c, err := o.deps.IsCancelled(stageCtx, task.ID); err != nil {
			return err
		} else if c {
			return ErrCancelled
		}
		return o.dispatch(stageCtx, task, state, stageType)
	})

	if execErr != nil {
		if fErr := o.deps.Stage.FailStage(ctx, attempt.AttemptID, execErr.Error()); fErr != nil {
			return fErr
		}
		return execErr
	}

	if err := o.deps.Stage.CompleteStage(ctx, attempt.AttemptID); err != nil {
		return err
	}
	_, high := ProgressBand(status)
	if err := o.deps.Stage.AdvanceProgress(ctx, task.ID, status, high); err != nil {
		return err
	}
	o.publish(ctx, task, ProgressEvent{Type: EventProgress, StageType: stageType, Status: status, Progress: high})
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, task *database.Task, state *runState, stageType database.StageType) error {
	switch stageType {
	case database.StageResolve:
		return o.actionResolve(ctx, task)
	case database.StageDownload:
		return o.actionDownload(ctx, task, state)
	case database.StageTranscode:
		return o.actionTranscode(ctx, state)
	case database.StageUploadStorage:
		return o.actionUploadStorage(ctx, task, state)
	case database.StageTranscribe:
		return o.actionTranscribe(ctx, task, state)
	case database.StageSummarize:
		return o.actionSummarize(ctx, task)
	default:
		return fmt.Errorf("pipeline: unknown stage %q", stageType)
	}
}

func (o *Orchestrator) abort(ctx context.Context, task *database.Task, message string) error {
	if err := o.deps.Stage.FailTask(ctx, task.ID, message); err != nil {
		o.deps.Logger.Error("pipeline: failed to persist task failure", zap.String("task_id", task.ID), zap.Error(err))
	}
	o.publish(ctx, task, ProgressEvent{Type: EventError, Status: database.TaskFailed, Message: message})
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, task *database.Task, event ProgressEvent) {
	if o.deps.Publisher == nil {
		return
	}
	event.TaskID = task.ID
	o.deps.Publisher.Publish(ctx, task.ID, event)
}

func (o *Orchestrator) loadTask(ctx context.Context, taskID string) (*database.Task, error) {
	var task database.Task
	if err := o.deps.DB.WithContext(ctx).Where("id = ?", taskID).First(&task).Error; err != nil {
		return nil, fmt.Errorf("pipeline: load task %s: %w", taskID, err)
	}
	return &task, nil
}

// RunWorkerPool drains taskIDs from a channel with bounded concurrency,
// one worker goroutine per task. It returns once the channel is closed
// and all in-flight tasks finish, or ctx is cancelled.
func (o *Orchestrator) RunWorkerPool(ctx context.Context, taskIDs <-chan string, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for taskID := range taskIDs {
		taskID := taskID
		g.Go(func() error {
			if err := o.Run(gctx, taskID); err != nil {
				o.deps.Logger.Error("pipeline: task run failed", zap.String("task_id", taskID), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// classifyASRError maps the asr package's sentinel errors to apperr so
// resilience.Do's retry classification applies uniformly.
func classifyASRError(provider string, err error) error {
	switch {
	case errors.Is(err, asr.ErrTransient), errors.Is(err, asr.ErrUnavailable):
		return apperr.Vendor(provider, err).WithRetryable(true)
	case errors.Is(err, asr.ErrQuotaExceeded):
		return apperr.New(apperr.CodeQuotaExceeded, "asr quota exceeded").WithProvider(provider).WithCause(err).WithRetryable(false)
	case errors.Is(err, asr.ErrInvalidFormat):
		return apperr.New(apperr.CodeInvalidFormat, "invalid audio format").WithProvider(provider).WithCause(err).WithRetryable(false)
	default:
		return apperr.Vendor(provider, err).WithRetryable(true)
	}
}
