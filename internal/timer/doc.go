// Package timer manages the named countdowns of the alarm cycle (exit
// delay, entry delay, auto-rearm, siren cut-off) and publishes their
// expiries onto the event bus.
//
// Starting a kind replaces any countdown of the same kind; cancellation is
// idempotent. A single-fire guard makes an expiry racing its own
// cancellation deterministic: the cancel wins and nothing is published.
package timer
