// Package config defines the daemon's configuration snapshot and provides
// helpers to load, validate and save it in YAML format.
//
// Configuration is immutable once loaded: hot reload constructs a fresh
// snapshot and swaps it atomically through a Store. Validation faults are
// fatal at startup and can never surface at runtime.
package config
