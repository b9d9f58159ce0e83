// Copyright (c) ScribeFlow Authors.
// Licensed under the MIT License.

/*
Package handlers implements the HTTP request handlers for scribeflow's
pipeline API.

# Overview

Each handler is a thin adapter: decode the request, call into the
relevant component package, write the envelope response. None of these
handlers own business logic — TaskHandler defers to package pipeline
and the database, TranscriptHandler to package transcript's persisted
segments, SummaryHandler to package summary, QuotaHandler to package
quota, ProgressHandler to package broadcast, UploadHandler to package
storage.

# Core types

  - UploadHandler     — presigned upload + content-hash dedup
  - TaskHandler        — create/list/get/delete task
  - TranscriptHandler  — paged transcript retrieval
  - SummaryHandler     — summary retrieval + visualization generation
  - ProgressHandler    — SSE progress stream per task
  - QuotaHandler       — quota query/refresh
  - HealthHandler      — service health checks (/health, /healthz, /ready)
  - ResponseWriter     — wraps http.ResponseWriter to capture status code
  - HealthCheck        — pluggable health check interface (database, redis)

# Shared helpers

  - WriteSuccess / WriteAppError / WriteErrorMessage / WriteJSON — envelope helpers (api.Envelope)
  - DecodeJSONBody (1 MB limit + strict mode), ValidateContentType, ValidateURL, ValidateEnum
  - RegisterCheck — register a custom HealthCheck implementation
*/
package handlers
