package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/api"
	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/internal/database"
)

func seedTask(t *testing.T, db *gorm.DB, owner string, status database.TaskStatus) *database.Task {
	t.Helper()
	task := database.Task{ID: uuid.NewString(), OwnerID: owner, Status: status}
	require.NoError(t, db.Create(&task).Error)
	return &task
}

func TestSummaryHandler_ListReturnsOnlyActiveRows(t *testing.T) {
	db := newHandlerDB(t)
	h := NewSummaryHandler(db, zap.NewNop())
	task := seedTask(t, db, "user-1", database.TaskCompleted)

	require.NoError(t, db.Create(&database.Summary{TaskID: task.ID, SummaryType: database.SummaryOverview, Content: "v1", Version: 1, IsActive: false}).Error)
	require.NoError(t, db.Create(&database.Summary{TaskID: task.ID, SummaryType: database.SummaryOverview, Content: "v2", Version: 2, IsActive: true}).Error)
	require.NoError(t, db.Create(&database.Summary{TaskID: task.ID, SummaryType: database.SummaryVisualMindmap, VisualFormat: "mermaid", VisualContent: "mindmap\n  root", IsActive: true}).Error)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-Id", "user-1")
	h.HandleList(w, r, task.ID)

	var env api.Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Equal(t, 0, env.Code)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var resp api.SummaryListResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Len(t, resp.Items, 2)
	for _, item := range resp.Items {
		if item.SummaryType == "overview" {
			assert.Equal(t, "v2", item.Content)
		}
	}
}

func TestSummaryHandler_ListRejectsForeignTask(t *testing.T) {
	db := newHandlerDB(t)
	h := NewSummaryHandler(db, zap.NewNop())
	task := seedTask(t, db, "user-1", database.TaskCompleted)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-Id", "someone-else")
	h.HandleList(w, r, task.ID)

	var env api.Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	assert.Equal(t, apperr.CodeTaskNotFound, env.Code)
}

func TestSummaryHandler_GenerateVisualizationEnqueuesJob(t *testing.T) {
	db := newHandlerDB(t)
	h := NewSummaryHandler(db, zap.NewNop())
	task := seedTask(t, db, "user-1", database.TaskCompleted)

	body := `{"visual_type":"visual_mindmap","content_style":"meeting","generate_image":true,"image_format":"png"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-User-Id", "user-1")
	h.HandleGenerateVisualization(w, r, task.ID)

	var env api.Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	require.Equal(t, 0, env.Code)

	var jobs []database.VisualizationJob
	require.NoError(t, db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	assert.Equal(t, task.ID, jobs[0].TaskID)
	assert.Equal(t, database.SummaryVisualMindmap, jobs[0].VisualType)
	assert.Equal(t, database.VisualJobPending, jobs[0].Status)
	assert.True(t, jobs[0].GenerateImage)
}

func TestSummaryHandler_GenerateVisualizationRejectsIncompleteTask(t *testing.T) {
	db := newHandlerDB(t)
	h := NewSummaryHandler(db, zap.NewNop())
	task := seedTask(t, db, "user-1", database.TaskTranscribing)

	body := `{"visual_type":"visual_timeline"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-User-Id", "user-1")
	h.HandleGenerateVisualization(w, r, task.ID)

	var env api.Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	assert.Equal(t, apperr.CodeInvalidParam, env.Code)
}

func TestSummaryHandler_GenerateVisualizationRejectsUnknownType(t *testing.T) {
	db := newHandlerDB(t)
	h := NewSummaryHandler(db, zap.NewNop())
	task := seedTask(t, db, "user-1", database.TaskCompleted)

	body := `{"visual_type":"visual_gantt"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-User-Id", "user-1")
	h.HandleGenerateVisualization(w, r, task.ID)

	var env api.Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	assert.Equal(t, apperr.CodeInvalidParam, env.Code)
}
