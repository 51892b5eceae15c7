// Package remote is the HTTP/JSON client for the generation service.
//
// It covers the whole RPC boundary the pipeline depends on: health checks,
// cost quotes, reference uploads, generation requests, download URL
// resolution, and artifact byte retrieval. Transient failures (408, 429, 5xx,
// network timeouts) are retried with capped exponential backoff; context
// cancellation and deadlines are never retried so callers keep full control
// of timing.
package remote
