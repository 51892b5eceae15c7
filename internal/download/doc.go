// Package download performs one download attempt over a batch.
//
// Every group is processed independently and concurrently. A group's
// channels are resolved in parallel under a shared deadline: the first group
// that needs the network gets the full retry budget and every other group
// gets the shorter status-check budget. Non-retryable attempts carry no
// deadline at all. Resolved URLs are written to the URL cache the moment they
// arrive, and fully cached groups skip the network.
//
// A group is fulfilled only when every channel resolved. Any remote failure
// drops the whole group; a missed deadline defers the whole group to the next
// attempt.
package download
