// Package logger provides a zap-based sugared logger shared by the daemon.
//
// The logger travels in context.Context: components call WithName once and
// the package-level helpers (InfoKV, Warnf, ...) pick the named logger back
// up at every call site. A process-wide default is used when the context
// carries no logger.
package logger
