// Package progress is the observer boundary for in-flight batches.
//
// Updates are immutable values changed through With* copies. Reporters must
// not block the pipeline; Console renders either a rewriting status line on a
// terminal or plain periodic lines otherwise. Pace keeps the fraction moving
// while an attempt waits on the network.
package progress
