package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/api"
	"github.com/scribeflow/scribeflow/apperr"
	"github.com/scribeflow/scribeflow/internal/ctxkeys"
	"github.com/scribeflow/scribeflow/types"
)

// RequestOwnerID returns the authenticated owner for r. Auth/JWT
// verification is out of scope; an upstream middleware is
// expected to call types.WithUserID on the request context, but a
// X-User-Id header is also accepted so handlers work standalone in
// tests and local development.
func RequestOwnerID(r *http.Request) string {
	if uid, ok := types.UserID(r.Context()); ok {
		return uid
	}
	return r.Header.Get("X-User-Id")
}

// =============================================================================
// 🎯 响应辅助函数 — 统一信封 {code, message, data, traceId}
// =============================================================================

// RequestLocale resolves the response locale from the Accept-Language
// header ("Locale").
func RequestLocale(r *http.Request) api.Locale {
	return api.ResolveLocale(r.Header.Get("Accept-Language"))
}

// RequestTraceID returns the trace ID to echo in the envelope: the value
// upstream middleware stored in the context, else an inbound X-Trace-Id
// header, else the X-Request-ID.
func RequestTraceID(r *http.Request) string {
	if v, ok := ctxkeys.TraceID(r.Context()); ok {
		return v
	}
	if v := r.Header.Get("X-Trace-Id"); v != "" {
		return v
	}
	return r.Header.Get("X-Request-ID")
}

// WriteJSON writes an arbitrary JSON body, bypassing the envelope. Used
// only for non-envelope transport responses (health probes).
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes data wrapped in the standard envelope at code 0.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data any) {
	api.WriteEnvelope(w, RequestLocale(r), RequestTraceID(r), data)
}

// WriteAppError writes err as a business-error envelope: HTTP 200,
// non-zero code.
func WriteAppError(w http.ResponseWriter, r *http.Request, err *apperr.Error, logger *zap.Logger) {
	api.WriteAppError(w, RequestLocale(r), RequestTraceID(r), err, logger)
}

// WriteErrorMessage writes a one-off business error built from code and
// message, without a pre-existing *apperr.Error.
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, code int, message string, logger *zap.Logger) {
	WriteAppError(w, r, apperr.New(code, message), logger)
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody decodes r's JSON body into dst, writing a business
// error envelope on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil {
		err := apperr.New(apperr.CodeMissingParam, "request body is empty")
		WriteAppError(w, r, err, logger)
		return err
	}

	// Limit request body to 1 MB to prevent abuse.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields() // 严格模式：拒绝未知字段

	if err := decoder.Decode(dst); err != nil {
		apiErr := apperr.New(apperr.CodeInvalidFormat, "invalid JSON body").WithCause(err)
		WriteAppError(w, r, apiErr, logger)
		return apiErr
	}

	return nil
}

// ValidateContentType 验证 Content-Type
// 使用 mime.ParseMediaType 进行宽松解析，正确处理大小写变体
// （如 "application/json; charset=UTF-8"）和额外参数。
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		apiErr := apperr.New(apperr.CodeInvalidFormat, "Content-Type must be application/json")
		WriteAppError(w, r, apiErr, logger)
		return false
	}
	return true
}

// ValidateURL validates that s is a well-formed HTTP or HTTPS URL.
func ValidateURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidateEnum checks whether value is one of the allowed values.
func ValidateEnum(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// ValidateNonNegative checks that value is >= 0.
func ValidateNonNegative(value float64) bool {
	return value >= 0
}

// =============================================================================
// 📊 响应包装器（用于捕获状态码）
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 创建新的 ResponseWriter
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader 重写 WriteHeader 以捕获状态码
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write 重写 Write 以标记已写入
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
