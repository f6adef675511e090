// Package queue implements the durable offline event queue.
//
// Every event published on the bus is appended to rotating JSON-line
// segment files under the data directory and held until the remote
// authority acknowledges it. Recovery tolerates a torn trailing record
// from an unclean shutdown; a persisted acknowledgement cursor keeps
// replayed entries from being delivered twice across restarts. When the
// backing storage fails the queue degrades to a bounded in-memory ring
// and raises the storage-degraded health flag instead of stopping the
// daemon. Oldest entries are pruned when the count or age bound is
// exceeded, with the loss surfaced in health.
package queue
