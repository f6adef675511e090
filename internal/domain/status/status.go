package status

import (
	"sync"
	"time"
)

// AlarmState is the authoritative alarm mode of the controller.
type AlarmState string

// Alarm states. The cycle is disarmed -> exit_delay -> armed -> entry_delay
// -> alarm and back; there is no terminal state.
const (
	Disarmed   AlarmState = "disarmed"
	ExitDelay  AlarmState = "exit_delay"
	Armed      AlarmState = "armed"
	EntryDelay AlarmState = "entry_delay"
	Alarm      AlarmState = "alarm"
)

// Valid reports whether s is one of the five defined alarm states.
func (s AlarmState) Valid() bool {
	switch s {
	case Disarmed, ExitDelay, Armed, EntryDelay, Alarm:
		return true
	default:
		return false
	}
}

// ActuatorState mirrors the last commanded siren and floodlight outputs.
type ActuatorState struct {
	// Siren is the last commanded siren level.
	Siren bool `json:"siren"`
	// Floodlight is the last commanded floodlight level.
	Floodlight bool `json:"floodlight"`
}

// LinkStatus describes the physical network link.
type LinkStatus string

// Physical link statuses.
const (
	LinkUp       LinkStatus = "up"
	LinkDown     LinkStatus = "down"
	LinkDegraded LinkStatus = "degraded"
)

// RemoteStatus describes the logical connection to the remote authority.
type RemoteStatus string

// Remote link statuses.
const (
	RemoteOnline       RemoteStatus = "online"
	RemoteOffline      RemoteStatus = "offline"
	RemoteReconnecting RemoteStatus = "reconnecting"
)

// ConnectivityState is the current network selection and link health.
type ConnectivityState struct {
	// SelectedInterface is the interface the remote link binds to,
	// empty when no interface is available.
	SelectedInterface string `json:"selected_interface"`
	// LinkStatus is the physical link status of the selection.
	LinkStatus LinkStatus `json:"link_status"`
	// RemoteStatus is the remote authority link status.
	RemoteStatus RemoteStatus `json:"remote_status"`
}

// Health carries the degraded-mode flags surfaced to operators.
// Data loss and storage degradation are explicit and observable,
// never silent.
type Health struct {
	// StorageDegraded is set when the durable queue has fallen back to
	// its in-memory ring buffer.
	StorageDegraded bool `json:"storage_degraded"`
	// EventsPruned is set once the queue has dropped events to stay
	// within its configured bounds.
	EventsPruned bool `json:"events_pruned"`
	// HardwareDegraded is set when the GPIO layer is running against
	// last-known sensor state.
	HardwareDegraded bool `json:"hardware_degraded"`
}

// Snapshot is a point-in-time copy of all shared status.
type Snapshot struct {
	// Alarm is the authoritative alarm state.
	Alarm AlarmState `json:"alarm_state"`
	// Actuators is the last commanded output state.
	Actuators ActuatorState `json:"actuators"`
	// Connectivity is the current network and remote link health.
	Connectivity ConnectivityState `json:"connectivity"`
	// Health is the degraded-mode flag set.
	Health Health `json:"health"`
	// ChangedAt is when the alarm state last changed.
	ChangedAt time.Time `json:"changed_at"`
}

// Store holds all shared mutable status behind a single read-mostly lock.
// Writers are the state machine (alarm, actuators) and the network/remote
// components (connectivity, health); every other component reads
// short-lived snapshots.
type Store struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewStore creates a store in the boot state: disarmed, all outputs off,
// offline. The fail-safe boot contract requires actuators to read all-false
// before any other component starts.
func NewStore() *Store {
	return &Store{
		snapshot: Snapshot{
			Alarm: Disarmed,
			Connectivity: ConnectivityState{
				LinkStatus:   LinkDown,
				RemoteStatus: RemoteOffline,
			},
			ChangedAt: time.Now().UTC(),
		},
	}
}

// Snapshot returns a copy of the current status.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot
}

// AlarmState returns the current alarm state.
func (s *Store) AlarmState() AlarmState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot.Alarm
}

// Actuators returns the last commanded actuator state.
func (s *Store) Actuators() ActuatorState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot.Actuators
}

// SetAlarmState records a new alarm state. Only the state machine calls this.
func (s *Store) SetAlarmState(state AlarmState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot.Alarm == state {
		return
	}

	s.snapshot.Alarm = state
	s.snapshot.ChangedAt = time.Now().UTC()
}

// SetActuators records the last commanded outputs. Only the state machine
// calls this, after the corresponding hardware command has been issued.
func (s *Store) SetActuators(a ActuatorState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Actuators = a
}

// SetConnectivity records the current network selection and link health.
func (s *Store) SetConnectivity(c ConnectivityState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Connectivity = c
}

// SetRemoteStatus updates only the remote link portion of connectivity.
func (s *Store) SetRemoteStatus(r RemoteStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Connectivity.RemoteStatus = r
}

// MarkStorageDegraded latches the storage-degraded health flag.
func (s *Store) MarkStorageDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Health.StorageDegraded = true
}

// MarkEventsPruned latches the events-pruned health flag.
func (s *Store) MarkEventsPruned() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Health.EventsPruned = true
}

// MarkHardwareDegraded latches the hardware-degraded health flag.
func (s *Store) MarkHardwareDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.Health.HardwareDegraded = true
}
