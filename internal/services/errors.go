package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation             = errors.New("validation failure")
	ErrUnsupportedCombination = errors.New("unsupported combination")
	ErrQuoteRejected          = errors.New("quote rejected")
	ErrSubmissionAborted      = errors.New("submission aborted")
	ErrGroupHardFailed        = errors.New("group hard failed")
	ErrGroupTimedOut          = errors.New("group timed out")
	ErrBatchAborted           = errors.New("batch aborted")
	ErrRecoveryCorruption     = errors.New("recovery record corrupted")
	ErrInvariantViolation     = errors.New("internal invariant violation")
	ErrConfiguration          = errors.New("configuration error")
	ErrNotFound               = errors.New("not found")
	ErrTransient              = errors.New("transient failure")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsCancellation reports whether err stems from caller cancellation. Deadline
// expiry is not cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// AlreadyReported reports whether err carries a condition whose user-facing
// message has already been delivered to the message sink.
func AlreadyReported(err error) bool {
	return errors.Is(err, ErrBatchAborted) || errors.Is(err, ErrSubmissionAborted)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}
