// Package config loads, normalizes, and validates genfetch configuration.
//
// Configuration is read from TOML, layered over repository defaults, and has
// environment fallbacks for credentials. Path fields are expanded to absolute
// paths and blob storage URLs default to file buckets under the configured
// directories. Callers should treat the returned Config as read-only.
package config
