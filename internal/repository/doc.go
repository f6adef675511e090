// Package repository persists the alarm state snapshot used for status
// continuity across daemon restarts.
package repository
