// Package ctl implements the sentinel-ctl command: a thin client for the
// daemon's local HTTP API covering status reads, arm/disarm, manual
// actuator control and the live event stream.
package ctl
