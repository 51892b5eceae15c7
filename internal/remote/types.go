package remote

import (
	"fmt"
	"strings"
	"time"

	"genfetch/internal/services"
)

// ErrorCode enumerates remote rejection reasons.
type ErrorCode string

const (
	CodeInsufficientPoints ErrorCode = "insufficient_points"
	CodeInvalidRequest     ErrorCode = "invalid_request"
	CodeContentPolicy      ErrorCode = "content_policy"
	CodeUnavailable        ErrorCode = "unavailable"
	CodeUnknown            ErrorCode = "unknown"
)

// Rejection is a remote refusal carrying a typed code and diagnostics.
type Rejection struct {
	Code     ErrorCode `json:"error_code"`
	Messages []string  `json:"messages"`
}

func (r *Rejection) Error() string {
	if len(r.Messages) == 0 {
		return fmt.Sprintf("remote rejected request: %s", r.Code)
	}
	return fmt.Sprintf("remote rejected request: %s: %s", r.Code, strings.Join(r.Messages, "; "))
}

// Unwrap lets callers classify quote rejections with errors.Is.
func (r *Rejection) Unwrap() error { return services.ErrQuoteRejected }

// Request describes a prospective generation on the wire.
type Request struct {
	Kind           string   `json:"kind"`
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model,omitempty"`
	Variations     int      `json:"variations"`
	Channels       []string `json:"channels"`
	ReferenceCount int      `json:"reference_count"`
	ReferenceIDs   []string `json:"reference_ids,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	TraceID        string   `json:"trace_id,omitempty"`
}

// Quote is a points cost estimate.
type Quote struct {
	Points int64 `json:"points"`
}

// Upload identifies a reference payload stored by the service.
type Upload struct {
	AssetID string `json:"asset_id"`
}

// GeneratedJob is one channel's job handle.
type GeneratedJob struct {
	Channel string `json:"channel"`
	JobID   string `json:"job_id"`
}

// ItemError is a per-item rejection inside an accepted batch.
type ItemError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// GeneratedItem is one variation of a generation response.
type GeneratedItem struct {
	Jobs  []GeneratedJob `json:"jobs"`
	Seed  *int64         `json:"seed,omitempty"`
	Cost  int64          `json:"cost"`
	Error *ItemError     `json:"error,omitempty"`
}

// GenerateResult is the classified generation response. Rejection is set when
// the whole batch was refused; otherwise Items holds per-variation results.
type GenerateResult struct {
	Rejection *Rejection      `json:"-"`
	Items     []GeneratedItem `json:"items"`
}

// JobError reports a job the service will never deliver.
type JobError struct {
	JobID    string
	NotFound bool
	Message  string
}

func (e *JobError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("job %s not found", e.JobID)
	}
	if e.Message == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// Unwrap classifies the failure as not-found or a generic hard failure.
func (e *JobError) Unwrap() error {
	if e.NotFound {
		return services.ErrNotFound
	}
	return services.ErrGroupHardFailed
}

type jobStatus struct {
	Status  string `json:"status"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("remote request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}
