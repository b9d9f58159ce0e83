package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/api"
	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/broadcast"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/pipeline"
)

// ProgressHandler streams per-task progress events over SSE. Each event's
// data field carries the standard envelope wrapping a progress payload;
// the WebSocket relay in package broadcast serves the same events to WS
// clients.
type ProgressHandler struct {
	db     *gorm.DB
	hub    *broadcast.Hub
	logger *zap.Logger
}

// NewProgressHandler constructs a ProgressHandler.
func NewProgressHandler(db *gorm.DB, hub *broadcast.Hub, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{db: db, hub: hub, logger: logger.With(zap.String("handler", "progress"))}
}

// HandleStream handles GET /api/v1/tasks/{id}/progress as an SSE stream.
// The opening event is synthesized from the task row, so a client
// connecting after completion still receives the terminal event immediately.
func (h *ProgressHandler) HandleStream(w http.ResponseWriter, r *http.Request, taskID string) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.WriteTransportError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Subscribe(r.Context(), task.ID)
	defer sub.Close()

	locale := RequestLocale(r)
	traceID := RequestTraceID(r)

	// Synthesize the opening snapshot from the task row itself, so a
	// client connecting after the worker finished (topic already gone)
	// still sees the terminal state instead of a silent stream.
	snapshot := snapshotEvent(&task)
	if err := writeSSE(w, locale, traceID, snapshot); err != nil {
		return
	}
	flusher.Flush()
	if snapshot.Type == pipeline.EventCompleted || snapshot.Type == pipeline.EventError {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-sub.Events:
			if !open {
				return
			}
			if err := writeSSE(w, locale, traceID, event); err != nil {
				h.logger.Debug("sse write failed, dropping subscriber",
					zap.String("task_id", task.ID), zap.Error(err))
				return
			}
			flusher.Flush()
			if event.Type == pipeline.EventCompleted || event.Type == pipeline.EventError {
				return
			}
		}
	}
}

// snapshotEvent projects a task's persisted state onto the event shape the
// stream opens with.
func snapshotEvent(task *database.Task) pipeline.ProgressEvent {
	event := pipeline.ProgressEvent{
		TaskID:   task.ID,
		Type:     pipeline.EventProgress,
		Status:   task.Status,
		Progress: task.Progress,
	}
	switch task.Status {
	case database.TaskCompleted:
		event.Type = pipeline.EventCompleted
	case database.TaskFailed:
		event.Type = pipeline.EventError
		event.Message = task.ErrorMessage
	}
	return event
}

func writeSSE(w http.ResponseWriter, locale api.Locale, traceID string, event pipeline.ProgressEvent) error {
	env := api.Envelope{
		Code:    apperr.CodeOK,
		Message: api.Localize(locale, apperr.CodeOK, "OK"),
		Data:    api.ProgressEventToResponse(event),
		TraceID: traceID,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, body)
	return err
}
