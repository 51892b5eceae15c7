// Package preflight provides readiness checks for the generation service and
// the local storage genfetch writes to.
//
// The CLI "genfetch check" command renders every result; generate and resume
// call RunAll first and refuse to submit when a required check fails.
package preflight
