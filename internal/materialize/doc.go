// Package materialize moves fulfilled artifacts onto their targets.
//
// Three gocloud.dev/blob buckets back it: the artifact store holds fetched
// bytes keyed by job id, the asset bucket holds targets under a prefix per
// identity, and the backup bucket keeps copies of a target taken before the
// first artifact of a batch lands. Buckets are opened by URL, so file://
// directories work locally and mem:// works in tests.
//
// Precacher drains cached, unconsumed download URLs into the artifact store.
// At most one pass runs at a time; concurrent callers wait their turn.
package materialize
