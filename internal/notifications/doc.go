// Package notifications delivers user-facing messages and pipeline events.
//
// Service publishes enumerated events to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Sink is the
// message boundary the pipeline talks to: every message is logged with the
// target identity and forwarded to the Service in the background, so
// reporting never blocks a download.
package notifications
