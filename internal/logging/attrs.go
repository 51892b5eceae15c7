package logging

import (
	"log/slog"
	"time"
)

type Attr = slog.Attr

func String(key string, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Strings(key string, values []string) Attr { return slog.Any(key, values) }

// Identity tags a record with the target asset identity.
func Identity(identity string) Attr { return slog.String(FieldIdentity, identity) }

// BatchID tags a record with a batch identifier.
func BatchID(id string) Attr { return slog.String(FieldBatchID, id) }

func JobID(id string) Attr { return slog.String(FieldJobID, id) }

func Channel(channel string) Attr { return slog.String(FieldChannel, channel) }

// GroupKey tags a record with a canonical group key.
func GroupKey(key string) Attr { return slog.String(FieldGroup, key) }

// Attempt tags a record with a 0-based download attempt number.
func Attempt(n int) Attr { return slog.Int(FieldAttempt, n) }

func Alert(value string) Attr { return slog.String(FieldAlert, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger tags logger with component. A nil logger discards.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}
