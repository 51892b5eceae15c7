package logging

import (
	"context"
	"log/slog"

	"genfetch/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldIdentity is the key for the target asset identity.
	FieldIdentity = "identity"
	// FieldBatchID is the key for batch identifiers.
	FieldBatchID = "batch_id"
	// FieldProgressID is the key for caller-assigned progress identifiers.
	FieldProgressID = "progress_id"
	// FieldJobID is the key for remote job identifiers.
	FieldJobID = "job_id"
	// FieldChannel is the key for the channel tag within a group.
	FieldChannel = "channel"
	// FieldGroup is the key for canonical group keys.
	FieldGroup = "group"
	// FieldAttempt is the key for 0-based download attempt numbers.
	FieldAttempt = "attempt"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
	// FieldEventType classifies warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to an operator.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if identity, ok := services.IdentityFromContext(ctx); ok {
		fields = append(fields, Identity(identity))
	}
	if id, ok := services.BatchIDFromContext(ctx); ok {
		fields = append(fields, BatchID(id))
	}
	if id, ok := services.ProgressIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldProgressID, id))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return slog.New(logger.Handler().WithAttrs(fields))
}
