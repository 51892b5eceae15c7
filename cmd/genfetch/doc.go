// Command genfetch requests generated artifacts from a remote generation
// service and applies the results to local asset targets.
//
// Typical use:
//
//	genfetch quote props/crate --prompt "weathered crate" --variations 3
//	genfetch generate props/crate --prompt "weathered crate" --variations 3
//	genfetch recovery list
//	genfetch recovery resume <batch-id>
//
// Interrupted downloads are recorded and can be resumed after a restart.
package main
