// Package api provides the pipeline HTTP API surface: a thin
// layer of request/response types and an envelope writer, consumed by
// package handlers. HTTP routing/auth/JWT verification are out of scope
//; this package only shapes what crosses the wire.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/scribeflow/scribeflow/apperr"
)

// Envelope is the canonical response body ("HTTP envelope"):
// every successful response carries code 0, every business error a
// non-zero numeric code, both at HTTP 200. HTTP non-200 is reserved for
// transport failures (401 missing token, 404 unknown route, 500
// uncaught), which the router layer writes directly without Envelope.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	TraceID string `json:"traceId"`
}

// Locale is a supported Accept-Language value ("Locale").
type Locale string

const (
	LocaleZH Locale = "zh" // default fallback
	LocaleEN Locale = "en"
)

// ResolveLocale maps an Accept-Language header value to a supported
// Locale, defaulting to zh.
func ResolveLocale(acceptLanguage string) Locale {
	switch {
	case len(acceptLanguage) >= 2 && acceptLanguage[:2] == "en":
		return LocaleEN
	default:
		return LocaleZH
	}
}

// messages holds the localized strings for well-known apperr codes. A
// code with no entry falls back to the Error's own Message field, which
// is developer-facing English — acceptable for the long tail of system
// errors with no localized copy registered.
var messages = map[int]map[Locale]string{
	apperr.CodeOK: {LocaleZH: "成功", LocaleEN: "OK"},

	apperr.CodeInvalidParam:  {LocaleZH: "请求参数无效", LocaleEN: "invalid request parameter"},
	apperr.CodeMissingParam:  {LocaleZH: "缺少必填参数", LocaleEN: "missing required parameter"},
	apperr.CodeInvalidFormat: {LocaleZH: "参数格式错误", LocaleEN: "malformed parameter"},

	apperr.CodeAuthTokenMissing: {LocaleZH: "缺少认证令牌", LocaleEN: "missing auth token"},
	apperr.CodeAuthTokenInvalid: {LocaleZH: "认证令牌无效", LocaleEN: "invalid auth token"},
	apperr.CodeAuthTokenExpired: {LocaleZH: "认证令牌已过期", LocaleEN: "auth token expired"},

	apperr.CodeForbidden: {LocaleZH: "无权限执行该操作", LocaleEN: "forbidden"},

	apperr.CodeTaskNotFound:     {LocaleZH: "任务不存在", LocaleEN: "task not found"},
	apperr.CodeProviderNotFound: {LocaleZH: "服务商不存在", LocaleEN: "provider not found"},
	apperr.CodeQuotaNotFound:    {LocaleZH: "配额记录不存在", LocaleEN: "quota entry not found"},

	apperr.CodeDuplicateTask:       {LocaleZH: "任务已存在", LocaleEN: "task already exists"},
	apperr.CodeAlreadyCompleted:    {LocaleZH: "任务已完成", LocaleEN: "task already completed"},
	apperr.CodeQuotaExceeded:       {LocaleZH: "该服务商配额已用尽", LocaleEN: "quota exceeded for provider"},
	apperr.CodeAllQuotasExhausted:  {LocaleZH: "所有语音识别配额已用尽", LocaleEN: "all ASR quotas exhausted"},
	apperr.CodePreferredUnavail:    {LocaleZH: "指定的服务商当前不可用", LocaleEN: "preferred provider unavailable"},
	apperr.CodeNoProviderAvailable: {LocaleZH: "当前没有可用的服务商", LocaleEN: "no provider available"},

	apperr.CodeSystem:   {LocaleZH: "系统内部错误", LocaleEN: "internal system error"},
	apperr.CodeDatabase: {LocaleZH: "数据库错误", LocaleEN: "database error"},
	apperr.CodeCache:    {LocaleZH: "缓存错误", LocaleEN: "cache error"},
	apperr.CodeStorage:  {LocaleZH: "对象存储错误", LocaleEN: "object storage error"},

	apperr.CodeVendorUnavailable: {LocaleZH: "第三方服务不可用", LocaleEN: "vendor service unavailable"},
	apperr.CodeVendorTimeout:     {LocaleZH: "第三方服务超时", LocaleEN: "vendor service timeout"},
	apperr.CodeVendorRejected:    {LocaleZH: "第三方服务拒绝了请求", LocaleEN: "vendor service rejected the request"},
}

// Localize renders message in the given locale, falling back to the raw
// message when no localized copy is registered for the code.
func Localize(locale Locale, code int, fallback string) string {
	if set, ok := messages[code]; ok {
		if s, ok := set[locale]; ok {
			return s
		}
	}
	return fallback
}

// WriteEnvelope writes data wrapped in Envelope{Code: 0} at HTTP 200.
func WriteEnvelope(w http.ResponseWriter, locale Locale, traceID string, data any) {
	writeEnvelope(w, http.StatusOK, Envelope{
		Code:    apperr.CodeOK,
		Message: Localize(locale, apperr.CodeOK, "OK"),
		Data:    data,
		TraceID: traceID,
	})
}

// WriteAppError writes err as a business-error Envelope at HTTP 200 —
// every business error shares the success shape with a non-zero code.
// logger, if non-nil, records the underlying cause.
func WriteAppError(w http.ResponseWriter, locale Locale, traceID string, err *apperr.Error, logger *zap.Logger) {
	if logger != nil {
		logger.Warn("business error",
			zap.Int("code", err.Code),
			zap.String("message", err.Message),
			zap.Bool("retryable", err.Retryable),
			zap.Error(err.Cause),
		)
	}
	writeEnvelope(w, http.StatusOK, Envelope{
		Code:    err.Code,
		Message: Localize(locale, err.Code, err.Message),
		Data:    nil,
		TraceID: traceID,
	})
}

// WriteTransportError writes a non-200 transport failure without the
// business envelope; non-200 statuses are reserved for transport
// failures.
func WriteTransportError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
