package gpio

import (
	"context"
	"sync"
)

// Simulated is the in-memory backend used for development machines and
// tests. The door level is injected with SetDoor.
type Simulated struct {
	mu         sync.Mutex
	door       bool
	siren      bool
	floodlight bool
}

// NewSimulated creates the backend with the door closed and, per the
// fail-safe contract, both outputs off.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// SetDoor injects a door level: true is open.
func (s *Simulated) SetDoor(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.door = open
}

// ReadDoorSensor returns the injected door level.
func (s *Simulated) ReadDoorSensor(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.door, nil
}

// SetSiren records the siren level.
func (s *Simulated) SetSiren(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.siren = on

	return nil
}

// SetFloodlight records the floodlight level.
func (s *Simulated) SetFloodlight(_ context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.floodlight = on

	return nil
}

// SirenState reports the last commanded siren level.
func (s *Simulated) SirenState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.siren
}

// FloodlightState reports the last commanded floodlight level.
func (s *Simulated) FloodlightState() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.floodlight
}

// EmergencyShutdown forces both outputs off.
func (s *Simulated) EmergencyShutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.siren = false
	s.floodlight = false

	return nil
}

// Close is a no-op for the simulated backend.
func (s *Simulated) Close() error {
	return nil
}
