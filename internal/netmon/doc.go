// Package netmon selects the network interface the remote link binds to.
//
// Interfaces are probed through sysfs (operstate and carrier) on a fixed
// interval and picked in configured priority order, wired before
// wireless. A healthy carrier does not guarantee a working path, so the
// remote link reports heartbeat results back; enough consecutive
// failures mark the selected interface suspect and force a switchover.
// Every selection change is published as a connectivity event and
// mirrored into the status store.
package netmon
