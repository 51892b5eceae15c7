// Package batch defines the value types that flow through the generation
// pipeline: remote jobs, atomic channel groups, batches, and the per-group
// outcomes a download attempt produces.
//
// Every type is an immutable value. Mutating helpers such as Batch.WithGroups
// return copies so concurrent readers never observe partial updates.
package batch
