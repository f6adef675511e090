// Package status holds the shared mutable status of the controller: the
// authoritative alarm state, the last commanded actuator outputs, network
// connectivity and the degraded-health flags.
//
// All of it lives behind a single read-mostly lock in Store. Writers are
// the state machine and the network/remote components; everyone else takes
// short-lived value snapshots, never long-held references.
package status
