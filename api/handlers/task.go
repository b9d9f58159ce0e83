package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/api"
	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/pipeline"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TaskHandler implements the task lifecycle operations: create, list,
// get, delete.
type TaskHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewTaskHandler constructs a TaskHandler.
func NewTaskHandler(db *gorm.DB, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{db: db, logger: logger.With(zap.String("handler", "task"))}
}

// HandleCreate handles POST /api/v1/tasks. The created task is persisted
// pending; a worker process picks it up and drives it through
// pipeline.Orchestrator.Run; handoff to the worker tier is via the
// database queue, out of this handler's scope.
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if !ValidateEnum(req.SourceType, []string{"upload", "url"}) {
		WriteErrorMessage(w, r, apperr.CodeInvalidParam, "source_type must be upload or url", h.logger)
		return
	}
	if req.SourceType == "upload" && req.FileKey == "" {
		WriteErrorMessage(w, r, apperr.CodeMissingParam, "file_key is required for upload tasks", h.logger)
		return
	}
	if req.SourceType == "url" {
		if req.SourceURL == "" || !ValidateURL(req.SourceURL) {
			WriteErrorMessage(w, r, apperr.CodeInvalidParam, "source_url must be a valid http(s) URL", h.logger)
			return
		}
	}

	opts := pipeline.TaskOptions{
		Language:             req.Options.Language,
		EnableDiarization:    req.Options.EnableDiarization,
		SummaryStyle:         req.Options.SummaryStyle,
		ContentStyle:         req.Options.ContentStyle,
		Locale:               req.Options.Locale,
		PreferredASRProvider: req.Options.PreferredASRProvider,
		PreferredASRVariant:  req.Options.PreferredASRVariant,
		PreferredLLMProvider: req.Options.PreferredLLMProvider,
		PreferredLLMModel:    req.Options.PreferredLLMModel,
		SummaryTypes:         req.Options.SummaryTypes,
		VisualTypes:          req.Options.VisualTypes,
	}
	optsJSON, err := pipeline.EncodeOptions(opts)
	if err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeInvalidParam, "invalid options").WithCause(err), h.logger)
		return
	}

	task := database.Task{
		ID:          uuid.NewString(),
		OwnerID:     RequestOwnerID(r),
		Title:       req.Title,
		SourceType:  req.SourceType,
		FileKey:     req.FileKey,
		SourceURL:   req.SourceURL,
		ContentHash: req.ContentHash,
		OptionsJSON: optsJSON,
		Status:      database.TaskPending,
		Progress:    0,
	}

	if req.ContentHash != "" {
		var dup database.Task
		err := h.db.WithContext(r.Context()).
			Where("owner_id = ? AND content_hash = ? AND status != ?", task.OwnerID, req.ContentHash, database.TaskFailed).
			First(&dup).Error
		if err == nil {
			WriteAppError(w, r, apperr.New(apperr.CodeDuplicateTask, "a task for this content already exists: "+dup.ID), h.logger)
			return
		} else if err != gorm.ErrRecordNotFound {
			WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "dedup lookup failed").WithCause(err), h.logger)
			return
		}
	}

	if err := h.db.WithContext(r.Context()).Create(&task).Error; err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to create task").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, r, api.TaskToResponse(&task))
}

// HandleList handles GET /api/v1/tasks.
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)

	q := h.db.WithContext(r.Context()).Model(&database.Task{}).Where("owner_id = ?", RequestOwnerID(r))
	if status := r.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to count tasks").WithCause(err), h.logger)
		return
	}

	var tasks []database.Task
	if err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tasks).Error; err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to list tasks").WithCause(err), h.logger)
		return
	}

	items := make([]api.TaskResponse, 0, len(tasks))
	for i := range tasks {
		items = append(items, api.TaskToResponse(&tasks[i]))
	}

	WriteSuccess(w, r, api.TaskListResponse{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
	})
}

// HandleGet handles GET /api/v1/tasks/{id}.
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := h.loadOwnedTask(r, taskID)
	if err != nil {
		h.writeLoadError(w, r, err)
		return
	}
	WriteSuccess(w, r, api.TaskToResponse(task))
}

// HandleDelete handles DELETE /api/v1/tasks/{id} (soft-delete).
func (h *TaskHandler) HandleDelete(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := h.loadOwnedTask(r, taskID)
	if err != nil {
		h.writeLoadError(w, r, err)
		return
	}
	if err := h.db.WithContext(r.Context()).Delete(task).Error; err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to delete task").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, r, nil)
}

func (h *TaskHandler) loadOwnedTask(r *http.Request, taskID string) (*database.Task, error) {
	var task database.Task
	err := h.db.WithContext(r.Context()).
		Where("id = ? AND owner_id = ?", taskID, RequestOwnerID(r)).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (h *TaskHandler) writeLoadError(w http.ResponseWriter, r *http.Request, err error) {
	if err == gorm.ErrRecordNotFound {
		WriteErrorMessage(w, r, apperr.CodeTaskNotFound, "task not found", h.logger)
		return
	}
	WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to load task").WithCause(err), h.logger)
}

// parsePagination reads page/page_size query params, clamping page_size
// to maxPageSize by contract ("page_size≤100").
func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	pageSize = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 {
		pageSize = v
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}
