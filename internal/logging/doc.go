// Package logging assembles structured slog loggers and formatting helpers used
// across the genfetch pipeline.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with target identities, batch IDs, progress IDs and correlation IDs.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail.
package logging
