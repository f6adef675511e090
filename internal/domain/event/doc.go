// Package event defines the typed event envelope that every input source
// publishes onto the bus: local commands, remote commands, hardware edges
// and timer expiries.
//
// Events are immutable once created. The JSON encoding of Event doubles as
// the remote wire schema, so durable replay and live send stay identical.
package event
