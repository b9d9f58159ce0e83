package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/broadcast"
	"github.com/scribeflow/scribeflow/internal/database"
)

// A client connecting after the worker finished (topic already gone from
// the hub) must still see the terminal state: the stream opens with a
// snapshot synthesized from the task row and ends immediately.
func TestProgressHandler_TerminalSnapshotEndsStream(t *testing.T) {
	db := newHandlerDB(t)
	h := NewProgressHandler(db, broadcast.NewHub(), zap.NewNop())

	task := database.Task{ID: uuid.NewString(), OwnerID: "user-1", Status: database.TaskCompleted, Progress: 100}
	require.NoError(t, db.Create(&task).Error)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-Id", "user-1")
	h.HandleStream(w, r, task.ID)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: completed\n"), "unexpected body: %q", body)
	assert.Contains(t, body, `"progress":100`)
	assert.Contains(t, body, `"task_id":"`+task.ID+`"`)
}

func TestProgressHandler_UnknownTaskIsNotFound(t *testing.T) {
	db := newHandlerDB(t)
	h := NewProgressHandler(db, broadcast.NewHub(), zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-User-Id", "user-1")
	h.HandleStream(w, r, "missing")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "40400")
}
