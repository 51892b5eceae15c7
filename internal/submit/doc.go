// Package submit turns a generation spec into a recorded batch.
//
// Reference payloads upload in parallel while the request is shaped; the
// response is classified per item so a rejected variation is dropped
// without sinking the rest. A batch is only returned once at least one
// variation was accepted, and it is written to the recovery log before the
// caller starts downloading.
package submit
