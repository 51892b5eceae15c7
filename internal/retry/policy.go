package retry

import (
	"time"

	"genfetch/internal/config"
)

// Policy bounds the retry loop. Attempts are numbered from zero; attempt
// MaxRetries is the final, non-retryable one, so a batch gets at most
// MaxRetries+1 attempts.
type Policy struct {
	MaxRetries         int
	RetryTimeout       time.Duration
	MaxRetryTimeout    time.Duration
	StatusCheckTimeout time.Duration
	PaceInterval       time.Duration
}

// PolicyFromConfig reads the download section of cfg.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		MaxRetries:         cfg.Download.MaxRetries,
		RetryTimeout:       cfg.RetryTimeout(),
		MaxRetryTimeout:    cfg.MaxRetryTimeout(),
		StatusCheckTimeout: cfg.StatusCheckTimeout(),
	}
}

// Retryable reports whether attempt may leave groups for a later attempt.
func (p Policy) Retryable(attempt int) bool {
	return attempt < p.MaxRetries
}

// TimeoutFor is the full budget of attempt: the base timeout doubled per
// attempt and capped. The final attempt has no deadline and returns zero.
func (p Policy) TimeoutFor(attempt int) time.Duration {
	if !p.Retryable(attempt) {
		return 0
	}
	limit := p.MaxRetryTimeout
	if limit < p.RetryTimeout {
		limit = p.RetryTimeout
	}
	timeout := p.RetryTimeout
	for i := 0; i < attempt && timeout < limit; i++ {
		timeout *= 2
	}
	return min(timeout, limit)
}
