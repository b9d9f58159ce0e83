// stage_actions.go wires the Orchestrator's six stage dispatch methods to
// the Resolver/Downloader/Transcoder tools (actions.go) and to the
// Selector-backed vendor calls (storage upload, ASR transcription, LLM
// summarization).
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/asr"
	"github.com/scribeflow/scribeflow/cost"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/quota"
	"github.com/scribeflow/scribeflow/registry"
	"github.com/scribeflow/scribeflow/selector"
	"github.com/scribeflow/scribeflow/storage"
)

func (o *Orchestrator) actionResolve(ctx context.Context, task *database.Task) error {
	resolved, err := o.deps.Resolver.Resolve(ctx, task.SourceURL)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	task.SourceURL = resolved
	return o.deps.DB.WithContext(ctx).Model(task).Update("source_url", resolved).Error
}

// actionDownload fetches the source bytes to a local temp file: the
// resolved remote URL for a "url" task, or the configured ingestion
// storage object for an "upload" task.
func (o *Orchestrator) actionDownload(ctx context.Context, task *database.Task, state *runState) error {
	if task.SourceType == "url" {
		path, sha, err := o.deps.Downloader.Download(ctx, task.SourceURL, o.deps.MaxDownloadBytes)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		state.localRawPath, state.rawSHA256 = path, sha
		return nil
	}

	if o.deps.SourceStorage == nil {
		return fmt.Errorf("download: no source storage configured for uploaded task")
	}
	url, err := o.deps.SourceStorage.GetObjectURL(ctx, task.FileKey, 15*time.Minute)
	if err != nil {
		return fmt.Errorf("download: presign uploaded object: %w", err)
	}
	path, sha, err := o.deps.Downloader.Download(ctx, url, o.deps.MaxDownloadBytes)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	state.localRawPath, state.rawSHA256 = path, sha
	return nil
}

func (o *Orchestrator) actionTranscode(ctx context.Context, state *runState) error {
	outputPath, contentType, ext, err := o.deps.Transcoder.Transcode(ctx, state.localRawPath)
	if err != nil {
		return fmt.Errorf("transcode: %w", err)
	}
	state.localCanonicalPath, state.contentType, state.ext = outputPath, contentType, ext
	return nil
}

// actionUploadStorage selects a storage provider, builds the
// content-addressed key from the canonical file's checksum, and uploads it
// if not already present (dedup / "instant upload").
func (o *Orchestrator) actionUploadStorage(ctx context.Context, task *database.Task, state *runState) error {
	sha, err := fileChecksum(state.localCanonicalPath)
	if err != nil {
		return fmt.Errorf("upload_storage: %w", err)
	}

	decision, err := o.deps.Selector.Select(ctx, selector.Request{ServiceType: registry.ServiceStorage, Owner: task.OwnerID})
	if err != nil {
		return fmt.Errorf("upload_storage: select provider: %w", err)
	}
	client, err := o.deps.Registry.Instantiate(registry.ServiceStorage, decision.Provider, registry.Overrides{})
	if err != nil {
		return fmt.Errorf("upload_storage: instantiate %s: %w", decision.Provider, err)
	}
	provider, ok := client.(storage.Provider)
	if !ok {
		return fmt.Errorf("upload_storage: %s does not implement storage.Provider", decision.Provider)
	}

	key := storage.UploadKey(time.Now(), sha, state.ext)
	breaker := o.breakerFor(registry.ServiceStorage, decision.Provider)

	err = breaker.Call(ctx, func() error {
		exists, err := provider.Exists(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		f, err := os.Open(state.localCanonicalPath)
		if err != nil {
			return fmt.Errorf("open canonical file: %w", err)
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat canonical file: %w", err)
		}
		return provider.PutObject(ctx, key, f, info.Size(), state.contentType)
	})
	if err != nil {
		return fmt.Errorf("upload_storage: %w", err)
	}

	task.FileKey = key
	task.ContentHash = sha
	return o.deps.DB.WithContext(ctx).Model(task).Updates(map[string]interface{}{"file_key": key, "content_hash": sha}).Error
}

// actionTranscribe selects an ASR provider, transcribes the canonical
// audio file, persists the resulting segments, and commits quota + cost.
func (o *Orchestrator) actionTranscribe(ctx context.Context, task *database.Task, state *runState) error {
	opts, err := DecodeOptions(task)
	if err != nil {
		return err
	}

	variant := opts.PreferredASRVariant
	if variant == "" {
		variant = quota.PreferredVariant(nil)
	}
	decision, err := o.deps.Selector.Select(ctx, selector.Request{
		ServiceType:       registry.ServiceASR,
		Variant:           variant,
		Owner:             task.OwnerID,
		PreferredProvider: opts.PreferredASRProvider,
		// known only on retry, after a prior attempt measured the file;
		// zero lets candidates rank by per-second rate alone
		DurationSecondsHint: task.DurationSeconds,
	})
	if err != nil {
		return fmt.Errorf("transcribe: select provider: %w", err)
	}
	client, err := o.deps.Registry.Instantiate(registry.ServiceASR, decision.Provider, registry.Overrides{})
	if err != nil {
		return fmt.Errorf("transcribe: instantiate %s: %w", decision.Provider, err)
	}
	provider, ok := client.(asr.Provider)
	if !ok {
		return fmt.Errorf("transcribe: %s does not implement asr.Provider", decision.Provider)
	}

	f, err := os.Open(state.localCanonicalPath)
	if err != nil {
		return fmt.Errorf("transcribe: open canonical file: %w", err)
	}
	defer f.Close()

	breaker := o.breakerFor(registry.ServiceASR, decision.Provider)
	var result *asr.Result
	callErr := breaker.Call(ctx, func() error {
		r, err := provider.Transcribe(ctx, asr.Source{Reader: f, ContentType: state.contentType}, asr.Options{
			Language:          opts.Language,
			EnableDiarization: opts.EnableDiarization,
			Variant:           asr.Variant(variant),
		})
		if err != nil {
			return classifyASRError(decision.Provider, err)
		}
		result = r
		return nil
	})
	if callErr != nil {
		return fmt.Errorf("transcribe: %w", callErr)
	}

	if err := o.persistSegments(ctx, task.ID, result); err != nil {
		return err
	}

	task.DurationSeconds = result.DurationSeconds
	if err := o.deps.DB.WithContext(ctx).Model(task).Update("duration_seconds", result.DurationSeconds).Error; err != nil {
		return fmt.Errorf("transcribe: persist duration: %w", err)
	}

	if o.deps.Quota != nil {
		if err := o.deps.Quota.Commit(ctx, task.OwnerID, decision.Provider, variant, result.DurationSeconds); err != nil {
			o.deps.Logger.Error("transcribe: quota commit failed", zap.Error(err))
		}
	}
	if o.deps.Cost != nil {
		_ = o.deps.Cost.Record(ctx, cost.Record{
			ServiceType: string(registry.ServiceASR), Provider: decision.Provider, UserID: task.OwnerID,
			TaskID: task.ID, RequestID: task.ID, DurationSeconds: result.DurationSeconds,
		})
	}
	return nil
}

func (o *Orchestrator) persistSegments(ctx context.Context, taskID string, result *asr.Result) error {
	rows := make([]database.TranscriptSegment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		wordsJSON, err := encodeWords(seg.Words)
		if err != nil {
			return err
		}
		rows = append(rows, database.TranscriptSegment{
			TaskID: taskID, SpeakerID: seg.SpeakerID, StartSec: seg.StartSec, EndSec: seg.EndSec,
			Content: seg.Content, Confidence: seg.Confidence, WordsJSON: wordsJSON,
		})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := o.deps.DB.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("persist transcript segments: %w", err)
	}
	return nil
}

func (o *Orchestrator) actionSummarize(ctx context.Context, task *database.Task) error {
	opts, err := DecodeOptions(task)
	if err != nil {
		return err
	}

	var segments []database.TranscriptSegment
	if err := o.deps.DB.WithContext(ctx).Where("task_id = ?", task.ID).Order("start_sec asc").Find(&segments).Error; err != nil {
		return fmt.Errorf("summarize: load segments: %w", err)
	}

	blockText, quality := o.deps.Transcript.Preprocess(segments, opts.Language)
	if err := o.deps.Summary.GenerateAll(ctx, task, opts, blockText, quality); err != nil {
		return fmt.Errorf("summarize: %w", err)
	}
	return nil
}

func (o *Orchestrator) breakerFor(serviceType registry.ServiceType, provider string) breakerCaller {
	if o.deps.Breakers == nil {
		return passthroughBreaker{}
	}
	return o.deps.Breakers.Get(string(serviceType), provider)
}

// breakerCaller is the narrow slice of resilience.Breaker this package
// depends on, letting tests substitute a no-op when no Breakers registry
// is configured.
type breakerCaller interface {
	Call(ctx context.Context, fn func() error) error
}

type passthroughBreaker struct{}

func (passthroughBreaker) Call(ctx context.Context, fn func() error) error { return fn() }

func encodeWords(words []asr.Word) (string, error) {
	if len(words) == 0 {
		return "", nil
	}
	converted := make([]database.WordTimestamp, 0, len(words))
	for _, w := range words {
		converted = append(converted, database.WordTimestamp{Word: w.Word, StartSec: w.StartSec, EndSec: w.EndSec, Confidence: w.Confidence})
	}
	b, err := json.Marshal(converted)
	if err != nil {
		return "", fmt.Errorf("encode word timestamps: %w", err)
	}
	return string(b), nil
}
