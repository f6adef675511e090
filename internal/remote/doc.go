// Package remote maintains the persistent websocket link to the remote
// authority.
//
// The client authenticates with a short-lived HS256 bearer token, drains
// the durable queue oldest first in acknowledged batches, and then keeps
// streaming with application-level heartbeats. Connection loss triggers
// jittered exponential backoff, reset only after the link has stayed up
// for the stability threshold. Commands from the authority are turned
// into remote-sourced bus events at this boundary and acknowledged on the
// wire; heartbeat results feed the network monitor's failover decision.
package remote
