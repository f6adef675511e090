// Package api serves the local HTTP control surface on the loopback
// interface: status reads, arm/disarm and manual actuator commands, and
// a websocket event stream.
//
// The API holds no actuation authority. Accepted commands become
// local-sourced bus events and the state machine decides; status reads
// are lock-free snapshots from the status store.
package api
