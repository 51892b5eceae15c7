// Package workflow composes the generation pipeline: quotes, submission,
// bounded download retries, materialization and the recovery log.
//
// Manager is the single entry point used by the CLI. Every top-level
// operation holds one transport lease for its whole duration. Resume and
// precache passes additionally take a file lock so two processes never
// drive the same recorded batches at once.
package workflow
