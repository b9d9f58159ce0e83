package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/api"
	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/internal/database"
)

// SummaryHandler serves the summary read path and the visualization
// enqueue operation.
type SummaryHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSummaryHandler constructs a SummaryHandler.
func NewSummaryHandler(db *gorm.DB, logger *zap.Logger) *SummaryHandler {
	return &SummaryHandler{db: db, logger: logger.With(zap.String("handler", "summary"))}
}

// HandleList handles GET /api/v1/tasks/{id}/summaries: all active
// summaries for the task, visual variants included.
func (h *SummaryHandler) HandleList(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := h.loadOwnedTask(r, taskID)
	if err != nil {
		h.writeLoadError(w, r, err)
		return
	}

	var rows []database.Summary
	if err := h.db.WithContext(r.Context()).
		Where("task_id = ? AND is_active = ?", task.ID, true).
		Order("summary_type asc").
		Find(&rows).Error; err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to load summaries").WithCause(err), h.logger)
		return
	}

	items := make([]api.SummaryResponse, 0, len(rows))
	for _, s := range rows {
		items = append(items, api.SummaryResponse{
			ID:            s.ID,
			SummaryType:   string(s.SummaryType),
			Content:       s.Content,
			Version:       s.Version,
			VisualFormat:  s.VisualFormat,
			VisualContent: s.VisualContent,
			ImageKey:      s.ImageKey,
			ModelUsed:     s.ModelUsed,
			TokenCount:    s.TokenCount,
			CreatedAt:     s.CreatedAt,
		})
	}

	WriteSuccess(w, r, api.SummaryListResponse{TaskID: task.ID, Items: items})
}

var visualTypes = map[string]database.SummaryType{
	"visual_mindmap":   database.SummaryVisualMindmap,
	"visual_timeline":  database.SummaryVisualTimeline,
	"visual_flowchart": database.SummaryVisualFlowchart,
}

// HandleGenerateVisualization handles POST /api/v1/tasks/{id}/visualizations:
// validates the request and enqueues a VisualizationJob for the worker
// tier; generation itself happens asynchronously.
func (h *SummaryHandler) HandleGenerateVisualization(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := h.loadOwnedTask(r, taskID)
	if err != nil {
		h.writeLoadError(w, r, err)
		return
	}
	if task.Status != database.TaskCompleted {
		WriteErrorMessage(w, r, apperr.CodeInvalidParam, "task has no transcript yet", h.logger)
		return
	}

	var req api.GenerateVisualizationRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	visualType, ok := visualTypes[req.VisualType]
	if !ok {
		WriteErrorMessage(w, r, apperr.CodeInvalidParam, "visual_type must be visual_mindmap, visual_timeline or visual_flowchart", h.logger)
		return
	}
	if req.ImageFormat != "" && !ValidateEnum(req.ImageFormat, []string{"png", "svg"}) {
		WriteErrorMessage(w, r, apperr.CodeInvalidParam, "image_format must be png or svg", h.logger)
		return
	}

	job := database.VisualizationJob{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		OwnerID:       task.OwnerID,
		VisualType:    visualType,
		ContentStyle:  req.ContentStyle,
		Provider:      req.Provider,
		ModelID:       req.ModelID,
		GenerateImage: req.GenerateImage,
		ImageFormat:   req.ImageFormat,
		Status:        database.VisualJobPending,
	}
	if err := h.db.WithContext(r.Context()).Create(&job).Error; err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to enqueue visualization").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, r, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (h *SummaryHandler) loadOwnedTask(r *http.Request, taskID string) (*database.Task, error) {
	var task database.Task
	err := h.db.WithContext(r.Context()).
		Where("id = ? AND owner_id = ?", taskID, RequestOwnerID(r)).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (h *SummaryHandler) writeLoadError(w http.ResponseWriter, r *http.Request, err error) {
	if err == gorm.ErrRecordNotFound {
		WriteErrorMessage(w, r, apperr.CodeTaskNotFound, "task not found", h.logger)
		return
	}
	WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to load task").WithCause(err), h.logger)
}
