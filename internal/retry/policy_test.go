package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyTimeoutEscalatesAndCaps(t *testing.T) {
	policy := Policy{MaxRetries: 6, RetryTimeout: 30 * time.Second, MaxRetryTimeout: 240 * time.Second}
	want := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		240 * time.Second,
		240 * time.Second,
		0,
	}
	for attempt, expected := range want {
		assert.Equal(t, expected, policy.TimeoutFor(attempt), "attempt %d", attempt)
	}
	assert.True(t, policy.Retryable(5))
	assert.False(t, policy.Retryable(6))
}

func TestPolicyZeroRetriesHasOnlyFinalAttempt(t *testing.T) {
	policy := Policy{MaxRetries: 0, RetryTimeout: time.Second, MaxRetryTimeout: time.Second}
	assert.False(t, policy.Retryable(0))
	assert.Zero(t, policy.TimeoutFor(0))
}
