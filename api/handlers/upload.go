package handlers

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/scribeflow/scribeflow/api"
	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/storage"
)

// presignTTL is the presigned-URL validity window, at most 5 minutes.
const presignTTL = 5 * time.Minute

// UploadHandler implements the "presign upload" operation,
// including content-hash dedup ("instant upload" when the hash already
// maps to a completed task owned by the caller).
type UploadHandler struct {
	db      *gorm.DB
	storage storage.Provider
	logger  *zap.Logger
}

// NewUploadHandler constructs an UploadHandler.
func NewUploadHandler(db *gorm.DB, sourceStorage storage.Provider, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{db: db, storage: sourceStorage, logger: logger.With(zap.String("handler", "upload"))}
}

// HandlePresign handles POST /api/v1/uploads/presign.
func (h *UploadHandler) HandlePresign(w http.ResponseWriter, r *http.Request) {
	var req api.PresignRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Filename == "" || req.ContentType == "" || req.ContentHash == "" {
		WriteErrorMessage(w, r, apperr.CodeMissingParam, "filename, content_type and content_hash are required", h.logger)
		return
	}
	if req.SizeBytes <= 0 {
		WriteErrorMessage(w, r, apperr.CodeInvalidParam, "size_bytes must be positive", h.logger)
		return
	}

	owner := RequestOwnerID(r)

	var existing database.Task
	err := h.db.WithContext(r.Context()).
		Where("owner_id = ? AND content_hash = ? AND status = ?", owner, req.ContentHash, database.TaskCompleted).
		First(&existing).Error
	switch {
	case err == nil:
		WriteSuccess(w, r, api.PresignResponse{Exists: true, TaskID: existing.ID})
		return
	case err != gorm.ErrRecordNotFound:
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "dedup lookup failed").WithCause(err), h.logger)
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(req.Filename), ".")
	key := storage.UploadKey(time.Now(), req.ContentHash, ext)

	url, err := h.storage.PresignPut(r.Context(), key, presignTTL, req.ContentType)
	if err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeStorage, "failed to presign upload").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, r, api.PresignResponse{
		Exists:    false,
		UploadURL: url,
		FileKey:   key,
		ExpiresIn: int(presignTTL.Seconds()),
	})
}
