package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/api"
	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/internal/database"
	"github.com/scribeflow/scribeflow/quota"
)

// QuotaHandler exposes the quota query/refresh operations. Refresh is an
// administrative operation; ownership of the authorization decision lives
// in routing middleware, not here.
type QuotaHandler struct {
	quota  *quota.Manager
	logger *zap.Logger
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(q *quota.Manager, logger *zap.Logger) *QuotaHandler {
	return &QuotaHandler{quota: q, logger: logger.With(zap.String("handler", "quota"))}
}

// HandleQuery handles GET /api/v1/quotas?provider=X&variant=Y. The owner
// scope defaults to the caller; "global" may be requested explicitly.
func (h *QuotaHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		owner = RequestOwnerID(r)
	}
	provider := r.URL.Query().Get("provider")
	variant := r.URL.Query().Get("variant")
	if provider == "" {
		WriteErrorMessage(w, r, apperr.CodeMissingParam, "provider is required", h.logger)
		return
	}

	entries, err := h.quota.QueryEffective(r.Context(), owner, provider, variant)
	if err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to query quota").WithCause(err), h.logger)
		return
	}

	items := make([]api.QuotaEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, api.QuotaEntryToResponse(e))
	}
	WriteSuccess(w, r, items)
}

// HandleRefresh handles POST /api/v1/quotas/refresh: upsert an entry,
// optionally clearing its usage.
func (h *QuotaHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req api.QuotaRefreshRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.Owner == "" || req.Provider == "" {
		WriteErrorMessage(w, r, apperr.CodeMissingParam, "owner and provider are required", h.logger)
		return
	}
	if !ValidateEnum(req.WindowType, []string{"day", "month", "total"}) {
		WriteErrorMessage(w, r, apperr.CodeInvalidParam, "window_type must be day, month or total", h.logger)
		return
	}

	seconds := req.QuotaSeconds
	if seconds == 0 && req.QuotaHours > 0 {
		seconds = req.QuotaHours * 3600
	}
	if !ValidateNonNegative(seconds) || seconds == 0 {
		WriteErrorMessage(w, r, apperr.CodeInvalidParam, "quota_seconds or quota_hours must be positive", h.logger)
		return
	}

	variant := req.Variant
	if variant == "" {
		variant = "file"
	}

	entry, err := h.quota.Refresh(r.Context(), req.Owner, req.Provider, variant,
		database.QuotaWindowType(req.WindowType), seconds, timeOrZero(req.WindowStart), timeOrZero(req.WindowEnd), req.Reset)
	if err != nil {
		WriteAppError(w, r, apperr.New(apperr.CodeDatabase, "failed to refresh quota").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, r, api.QuotaEntryToResponse(*entry))
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
