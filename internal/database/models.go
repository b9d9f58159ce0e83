package database

import (
	"time"

	"gorm.io/gorm"
)

// Models carry explicit TableName() overrides under an "sc_" prefix and
// gorm tags for the indexes hot lookup paths depend on.

// TaskStatus is the observable status of a Task.
type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskExtracting   TaskStatus = "extracting"
	TaskTranscribing TaskStatus = "transcribing"
	TaskSummarizing  TaskStatus = "summarizing"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
)

// Task is one unit of work traveling through the pipeline.
type Task struct {
	ID        string `gorm:"primaryKey;size:36"`
	OwnerID   string `gorm:"size:64;index"`
	Title     string `gorm:"size:255"`

	SourceType  string `gorm:"size:16"` // upload | url
	FileKey     string `gorm:"size:512"`
	SourceURL   string `gorm:"size:2048"`
	ContentHash string `gorm:"size:64;index:idx_task_owner_hash"`

	OptionsJSON string `gorm:"type:text"` // serialized task options object

	Status          TaskStatus `gorm:"size:16;index"`
	Progress        int
	DurationSeconds float64
	ErrorMessage    string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Task) TableName() string { return "sc_tasks" }

// StageType enumerates the canonical pipeline stages.
type StageType string

const (
	StageResolve       StageType = "resolve"
	StageDownload      StageType = "download"
	StageTranscode     StageType = "transcode"
	StageUploadStorage StageType = "upload_storage"
	StageTranscribe    StageType = "transcribe"
	StageSummarize     StageType = "summarize"
)

// CanonicalStageOrder is the fixed order stages run in; resolve is skipped
// for uploaded (non-URL) sources.
var CanonicalStageOrder = []StageType{
	StageResolve, StageDownload, StageTranscode, StageUploadStorage, StageTranscribe, StageSummarize,
}

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// TaskStage is one attempt record of one stage of one task.
type TaskStage struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	TaskID      string    `gorm:"size:36;index:idx_stage_task"`
	StageType   StageType `gorm:"size:32;index:idx_stage_task"`
	AttemptID   string    `gorm:"size:36"`
	Status      StageStatus `gorm:"size:16"`
	IsActive    bool        `gorm:"index"`
	ErrorMessage string     `gorm:"type:text"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}

func (TaskStage) TableName() string { return "sc_task_stages" }

// WordTimestamp is a single vendor-reported word with timing. Word-level
// timestamps are vendor-conditional; consumers must tolerate nil/empty.
type WordTimestamp struct {
	Word       string  `json:"word"`
	StartSec   float64 `json:"start"`
	EndSec     float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TranscriptSegment is one immutable (until edited) piece of the transcript.
type TranscriptSegment struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	TaskID    string `gorm:"size:36;index:idx_segment_task"`
	SpeakerID string `gorm:"size:64"`
	StartSec  float64
	EndSec    float64
	Content   string `gorm:"type:text"`
	Confidence float64

	WordsJSON string `gorm:"type:text"` // serialized []WordTimestamp, may be empty

	IsEdited        bool
	OriginalContent string `gorm:"type:text"`

	CreatedAt time.Time
}

func (TranscriptSegment) TableName() string { return "sc_transcript_segments" }

type SummaryType string

const (
	SummaryOverview       SummaryType = "overview"
	SummaryKeyPoints      SummaryType = "key_points"
	SummaryActionItems    SummaryType = "action_items"
	SummaryChapters       SummaryType = "chapters"
	SummaryVisualMindmap  SummaryType = "visual_mindmap"
	SummaryVisualTimeline SummaryType = "visual_timeline"
	SummaryVisualFlowchart SummaryType = "visual_flowchart"
)

// Summary is one generated artifact for a task; exactly one row per
// (task, summary_type) has IsActive=true.
type Summary struct {
	ID          uint64      `gorm:"primaryKey;autoIncrement"`
	TaskID      string      `gorm:"size:36;index:idx_summary_task_type"`
	SummaryType SummaryType `gorm:"size:32;index:idx_summary_task_type"`
	Content     string      `gorm:"type:text"`
	Version     int
	IsActive    bool `gorm:"index"`

	VisualFormat  string `gorm:"size:16"` // "mermaid" for visual_* types
	VisualContent string `gorm:"type:text"`
	ImageKey      string `gorm:"size:512"`

	ModelUsed    string `gorm:"size:128"`
	PromptVersion string `gorm:"size:32"`
	TokenCount   int

	CreatedAt time.Time
}

func (Summary) TableName() string { return "sc_summaries" }

type QuotaWindowType string

const (
	WindowDay   QuotaWindowType = "day"
	WindowMonth QuotaWindowType = "month"
	WindowTotal QuotaWindowType = "total"
)

type QuotaStatus string

const (
	QuotaActive    QuotaStatus = "active"
	QuotaExhausted QuotaStatus = "exhausted"
)

// GlobalOwner is the sentinel owner id for provider-wide quota entries.
const GlobalOwner = "global"

// QuotaEntry is keyed by (owner, provider, variant, window_type).
type QuotaEntry struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	Owner      string          `gorm:"size:64;uniqueIndex:idx_quota_key"`
	Provider   string          `gorm:"size:64;uniqueIndex:idx_quota_key"`
	Variant    string          `gorm:"size:32;uniqueIndex:idx_quota_key"`
	WindowType QuotaWindowType `gorm:"size:8;uniqueIndex:idx_quota_key"`

	WindowStart time.Time
	WindowEnd   time.Time

	QuotaSeconds float64
	UsedSeconds  float64
	Status       QuotaStatus `gorm:"size:16"`

	UpdatedAt time.Time
}

func (QuotaEntry) TableName() string { return "sc_quota_entries" }

// UsageRecord is an append-only cost/usage event.
type UsageRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Timestamp   time.Time `gorm:"index"`
	ServiceType string    `gorm:"size:16;index:idx_usage_type_provider"`
	Provider    string    `gorm:"size:64;index:idx_usage_type_provider"`
	UserID      string    `gorm:"size:64;index"`
	TaskID      string    `gorm:"size:36;index"`
	RequestID   string    `gorm:"size:36"`
	AttemptIndex int

	CostEstimate    float64
	Tokens          int
	DurationSeconds float64
}

func (UsageRecord) TableName() string { return "sc_usage_records" }

// VisualJobStatus is the lifecycle of a queued visualization request.
type VisualJobStatus string

const (
	VisualJobPending   VisualJobStatus = "pending"
	VisualJobRunning   VisualJobStatus = "running"
	VisualJobCompleted VisualJobStatus = "completed"
	VisualJobFailed    VisualJobStatus = "failed"
)

// VisualizationJob is one queued "generate visualization" request. The
// visualization path runs as its own pipeline, independently of the task's
// main stage sequence, so requests are queued here rather than as
// TaskStage rows.
type VisualizationJob struct {
	ID      string `gorm:"primaryKey;size:36"`
	TaskID  string `gorm:"size:36;index"`
	OwnerID string `gorm:"size:64;index"`

	VisualType   SummaryType `gorm:"size:32"`
	ContentStyle string      `gorm:"size:32"`
	Provider     string      `gorm:"size:64"`
	ModelID      string      `gorm:"size:64"`

	GenerateImage bool
	ImageFormat   string `gorm:"size:8"`

	Status       VisualJobStatus `gorm:"size:16;index"`
	ErrorMessage string          `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (VisualizationJob) TableName() string { return "sc_visualization_jobs" }

// AllModels lists every model for AutoMigrate / migration generation.
func AllModels() []interface{} {
	return []interface{}{
		&Task{}, &TaskStage{}, &TranscriptSegment{}, &Summary{}, &QuotaEntry{}, &UsageRecord{}, &VisualizationJob{},
	}
}

// AutoMigrate brings db's schema up to date with AllModels on serve/worker
// startup; the golang-migrate-driven internal/migration package remains
// the path for the standalone "migrate" subcommand.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
