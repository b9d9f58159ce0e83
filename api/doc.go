// Package api provides the pipeline HTTP API surface and envelope used
// by package handlers.
//
// # API overview
//
// scribeflow exposes a RESTful API for:
//   - presigned uploads and content-hash dedup
//   - task lifecycle (create, list, get, delete)
//   - transcript retrieval, paged
//   - summary retrieval and on-demand visualization generation
//   - progress streaming, one event stream per task
//   - quota inspection and administrative refresh
//
// # Envelope
//
// Every response — success or business error — is wrapped in Envelope:
//
//	{"code": 0, "message": "成功", "data": {...}, "traceId": "..."}
//
// HTTP status is always 200 for both cases; non-200 is reserved for
// transport failures the router layer handles before reaching a handler
// (401 missing auth, 404 unknown route, 500 uncaught panic).
//
// # Locale
//
// The Accept-Language header selects zh (default) or en for the
// envelope's message field; see ResolveLocale and Localize.
//
// HTTP routing, authentication/JWT verification, and presigned-URL
// generation mechanics are intentionally out of this package's scope
// — handlers call straight into the component packages
// (pipeline, quota, transcript, summary, storage, broadcast) and leave
// wiring those calls to routes up to the caller of NewXHandler.
package api
