// Package services defines shared utilities consumed by the generation
// pipeline components.
//
// Key responsibilities:
//   - Context helpers that stamp target identities, batch IDs, progress IDs,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can classify
//     failures with errors.Is regardless of where they were raised.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays uniform across components.
package services
