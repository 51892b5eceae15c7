// Package recovery persists in-flight generation batches and resolved
// download URLs in SQLite so a batch survives abnormal process exit.
//
// A batch is recorded right after submission, shrunk after every download
// attempt, and resolved (deleted) once no groups remain. The URL cache holds
// download URLs that were resolved but whose artifacts were not yet consumed,
// so a restart never repeats a resolution round trip.
//
// Rows that cannot be decoded are treated as data loss: they are deleted and
// reported with a warning, never returned to callers. Schema changes bump the
// version in schema.go.
package recovery
