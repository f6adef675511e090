// Package gpio abstracts the door sensor and the siren and floodlight
// relays behind a Controller interface with a sysfs backend for the
// device and a simulated backend for development and tests.
//
// Backends honor the fail-safe contract: outputs are forced off before a
// controller reports ready, and EmergencyShutdown cuts both outputs
// synchronously with a bounded readback confirmation. The Watcher turns
// raw door levels into debounced door_open and door_close bus events.
package gpio
