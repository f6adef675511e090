// Package daemon wires and runs the perimeter-sentinel controller: the
// event bus, state machine, timers, GPIO layer, durable queue, network
// monitor, remote link and local API, with the fail-safe output cut as
// the last act of every shutdown path.
package daemon
