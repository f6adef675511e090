package gpio

import (
	"context"
)

// Controller abstracts the door sensor input and the siren and floodlight
// relay outputs.
//
// The fail-safe contract: every backend forces both outputs off at
// construction before reporting ready, and EmergencyShutdown is a
// synchronous best-effort cut of both outputs that is safe to call from a
// deferred shutdown path.
type Controller interface {
	// ReadDoorSensor returns true when the door is open.
	ReadDoorSensor(ctx context.Context) (bool, error)
	// SetSiren drives the siren relay.
	SetSiren(ctx context.Context, on bool) error
	// SetFloodlight drives the floodlight relay.
	SetFloodlight(ctx context.Context, on bool) error
	// SirenState reports the last commanded siren level.
	SirenState() bool
	// FloodlightState reports the last commanded floodlight level.
	FloodlightState() bool
	// EmergencyShutdown forces both outputs off and confirms the cut by
	// reading the levels back. It takes no context: it must run even when
	// the daemon's contexts are already canceled.
	EmergencyShutdown() error
	// Close releases the hardware resources.
	Close() error
}
