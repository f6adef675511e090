// Package machine implements the authoritative alarm state machine.
//
// A pure transition table (Next) maps (state, event category) pairs to new
// states; the Machine controller consumes bus events, applies the table,
// drives actuators and timers, and publishes exactly one state-change
// audit event per accepted transition. Events with no table entry are
// ignored by design. All mutation of AlarmState flows through this
// package; no other component has actuation authority on the normal path.
package machine
