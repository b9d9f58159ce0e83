package api

import (
	"time"

	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/pipeline"
)

// =============================================================================
// Upload presign
// =============================================================================

// PresignRequest is the "presign upload" operation input.
type PresignRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
	SizeBytes   int64  `json:"size_bytes" binding:"required"`
	ContentHash string `json:"content_hash" binding:"required"` // sha256 hex
}

// PresignResponse is either a dedup hit or a fresh upload slot.
type PresignResponse struct {
	Exists    bool   `json:"exists"`
	TaskID    string `json:"task_id,omitempty"`
	UploadURL string `json:"upload_url,omitempty"`
	FileKey   string `json:"file_key,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"` // seconds, <= 300
}

// =============================================================================
// Task
// =============================================================================

// TaskOptionsPayload mirrors pipeline.TaskOptions on the wire.
type TaskOptionsPayload struct {
	Language             string   `json:"language,omitempty"`
	EnableDiarization    bool     `json:"enable_speaker_diarization,omitempty"`
	SummaryStyle         string   `json:"summary_style,omitempty"`
	ContentStyle         string   `json:"content_style,omitempty"`
	Locale               string   `json:"locale,omitempty"`
	PreferredASRProvider string   `json:"provider,omitempty"`
	PreferredASRVariant  string   `json:"asr_variant,omitempty"`
	PreferredLLMProvider string   `json:"llm_provider,omitempty"`
	PreferredLLMModel    string   `json:"model_id,omitempty"`
	SummaryTypes         []string `json:"summary_types,omitempty"`
	VisualTypes          []string `json:"visual_types,omitempty"`
}

// CreateTaskRequest is the "create task" operation input.
type CreateTaskRequest struct {
	Title       string              `json:"title,omitempty"`
	SourceType  string              `json:"source_type" binding:"required"` // upload | url
	FileKey     string              `json:"file_key,omitempty"`
	SourceURL   string              `json:"source_url,omitempty"`
	ContentHash string              `json:"content_hash,omitempty"`
	Options     TaskOptionsPayload  `json:"options,omitempty"`
}

// TaskResponse is the full task detail shape ("get task" / "create task").
type TaskResponse struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id,omitempty"`
	Title           string    `json:"title,omitempty"`
	SourceType      string    `json:"source_type"`
	FileKey         string    `json:"file_key,omitempty"`
	SourceURL       string    `json:"source_url,omitempty"`
	ContentHash     string    `json:"content_hash,omitempty"`
	Status          string    `json:"status"`
	Progress        int       `json:"progress"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TaskListResponse is the paged "list tasks" output.
type TaskListResponse struct {
	Items      []TaskResponse `json:"items"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalCount int64          `json:"total_count"`
}

// TaskToResponse projects a database.Task onto the wire shape.
func TaskToResponse(t *database.Task) TaskResponse {
	return TaskResponse{
		ID:              t.ID,
		OwnerID:         t.OwnerID,
		Title:           t.Title,
		SourceType:      t.SourceType,
		FileKey:         t.FileKey,
		SourceURL:       t.SourceURL,
		ContentHash:     t.ContentHash,
		Status:          string(t.Status),
		Progress:        t.Progress,
		DurationSeconds: t.DurationSeconds,
		ErrorMessage:    t.ErrorMessage,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// =============================================================================
// Transcript
// =============================================================================

// WordTimestampResponse mirrors database.WordTimestamp.
type WordTimestampResponse struct {
	Word       string  `json:"word"`
	StartSec   float64 `json:"start"`
	EndSec     float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TranscriptSegmentResponse is one segment in a "get transcript" page.
type TranscriptSegmentResponse struct {
	ID         uint64                  `json:"id"`
	SpeakerID  string                  `json:"speaker_id,omitempty"`
	StartSec   float64                 `json:"start"`
	EndSec     float64                 `json:"end"`
	Content    string                  `json:"content"`
	Confidence float64                 `json:"confidence,omitempty"`
	Words      []WordTimestampResponse `json:"words,omitempty"`
	IsEdited   bool                    `json:"is_edited,omitempty"`
}

// TranscriptResponse is the "get transcript" output.
type TranscriptResponse struct {
	TaskID     string                      `json:"task_id"`
	Segments   []TranscriptSegmentResponse `json:"segments"`
	Page       int                         `json:"page"`
	PageSize   int                         `json:"page_size"`
	TotalCount int64                       `json:"total_count"`
}

// =============================================================================
// Summary
// =============================================================================

// SummaryResponse is one generated artifact ("get summaries" entry).
type SummaryResponse struct {
	ID            uint64    `json:"id"`
	SummaryType   string    `json:"summary_type"`
	Content       string    `json:"content,omitempty"`
	Version       int       `json:"version"`
	VisualFormat  string    `json:"visual_format,omitempty"`
	VisualContent string    `json:"visual_content,omitempty"`
	ImageKey      string    `json:"image_key,omitempty"`
	ModelUsed     string    `json:"model_used,omitempty"`
	TokenCount    int       `json:"token_count,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SummaryListResponse is the "get summaries" output (all active summaries
// including visual, by contract).
type SummaryListResponse struct {
	TaskID string            `json:"task_id"`
	Items  []SummaryResponse `json:"items"`
}

// GenerateVisualizationRequest is the "generate visualization" input.
type GenerateVisualizationRequest struct {
	VisualType    string `json:"visual_type" binding:"required"` // visual_mindmap | visual_timeline | visual_flowchart
	ContentStyle  string `json:"content_style,omitempty"`
	Provider      string `json:"provider,omitempty"`
	ModelID       string `json:"model_id,omitempty"`
	GenerateImage bool   `json:"generate_image,omitempty"`
	ImageFormat   string `json:"image_format,omitempty"` // png | svg
}

// =============================================================================
// Progress
// =============================================================================

// ProgressEventResponse mirrors pipeline.ProgressEvent on the wire.
type ProgressEventResponse struct {
	Type     string `json:"type"` // progress | completed | error
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	TaskID   string `json:"task_id"`
	Message  string `json:"message,omitempty"`
}

// ProgressEventToResponse projects a pipeline.ProgressEvent onto the wire
// shape.
func ProgressEventToResponse(e pipeline.ProgressEvent) ProgressEventResponse {
	return ProgressEventResponse{
		Type:     string(e.Type),
		Status:   string(e.Status),
		Stage:    string(e.StageType),
		Progress: e.Progress,
		TaskID:   e.TaskID,
		Message:  e.Message,
	}
}

// =============================================================================
// Quota
// =============================================================================

// QuotaEntryResponse mirrors database.QuotaEntry on the wire.
type QuotaEntryResponse struct {
	Owner        string    `json:"owner"`
	Provider     string    `json:"provider"`
	Variant      string    `json:"variant"`
	WindowType   string    `json:"window_type"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	QuotaSeconds float64   `json:"quota_seconds"`
	UsedSeconds  float64   `json:"used_seconds"`
	Status       string    `json:"status"`
}

// QuotaEntryToResponse projects a database.QuotaEntry onto the wire shape.
func QuotaEntryToResponse(e database.QuotaEntry) QuotaEntryResponse {
	return QuotaEntryResponse{
		Owner:        e.Owner,
		Provider:     e.Provider,
		Variant:      e.Variant,
		WindowType:   string(e.WindowType),
		WindowStart:  e.WindowStart,
		WindowEnd:    e.WindowEnd,
		QuotaSeconds: e.QuotaSeconds,
		UsedSeconds:  e.UsedSeconds,
		Status:       string(e.Status),
	}
}

// QuotaRefreshRequest is the "quota: refresh" operation input.
type QuotaRefreshRequest struct {
	Owner        string  `json:"owner" binding:"required"`
	Provider     string  `json:"provider" binding:"required"`
	Variant      string  `json:"variant,omitempty"`
	WindowType   string  `json:"window_type" binding:"required"` // day | month | total
	QuotaSeconds float64 `json:"quota_seconds,omitempty"`
	QuotaHours   float64 `json:"quota_hours,omitempty"` // convenience input, converted to seconds
	WindowStart  *time.Time `json:"window_start,omitempty"`
	WindowEnd    *time.Time `json:"window_end,omitempty"`
	Reset        bool    `json:"reset,omitempty"`
}
