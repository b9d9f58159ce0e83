package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/api"
	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/internal/database"
)

// TranscriptHandler implements the "get transcript" operation:
// paged segments with optional word timestamps and speakers.
type TranscriptHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTranscriptHandler constructs a TranscriptHandler.
func NewTranscriptHandler(db *gorm.DB, logger *zap.Logger) *TranscriptHandler {
	return &TranscriptHandler{db: db, logger: logger.With(zap.String("handler", "transcript"))}
}

// HandleGet handles GET /api/v1/tasks/{id}/transcript.
func (h *TranscriptHandler) HandleGet(w http.ResponseWriter, r *http.Request, taskID string) {
	var task database.Task
	err := h.db.WithContext(r.Context()).
		Where("id = ? AND owner_id = ?", taskID, RequestOwnerID(r)).
		First(&task).Error
	if err == gorm.ErrRecordNotFound {
		WriteErrorMessage(w, r, apperr.CodeTaskNotFound, "task not found", h.logger)
		return
	} else if err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to load task").WithCause(err), h.logger)
		return
	}

	page, pageSize := parsePagination(r)

	q := h.db.WithContext(r.Context()).Model(&database.TranscriptSegment{}).Where("task_id = ?", taskID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to count segments").WithCause(err), h.logger)
		return
	}

	var segments []database.TranscriptSegment
	if err := q.Order("start_sec ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&segments).Error; err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to load segments").WithCause(err), h.logger)
		return
	}

	items := make([]api.TranscriptSegmentResponse, 0, len(segments))
	for _, s := range segments {
		item := api.TranscriptSegmentResponse{
			ID:         s.ID,
			SpeakerID:  s.SpeakerID,
			StartSec:   s.StartSec,
			EndSec:     s.EndSec,
			Content:    s.Content,
			Confidence: s.Confidence,
			IsEdited:   s.IsEdited,
		}
		if s.WordsJSON != "" {
			var words []database.WordTimestamp
			if err := json.Unmarshal([]byte(s.WordsJSON), &words); err == nil {
				for _, word := range words {
					item.Words = append(item.Words, api.WordTimestampResponse{
						Word:       word.Word,
						StartSec:   word.StartSec,
						EndSec:     word.EndSec,
						Confidence: word.Confidence,
					})
				}
			}
		}
		items = append(items, item)
	}

	WriteSuccess(w, r, api.TranscriptResponse{
		TaskID:     taskID,
		Segments:   items,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	})
}
