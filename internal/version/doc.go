// Package version exposes build metadata (semantic version, commit, build
// time) injected at build time via ldflags, plus a cobra subcommand that
// prints it.
package version
