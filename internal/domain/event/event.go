package event

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies where an event originated.
type Source string

// Event sources. Policy for which sources may perform which actions is
// enforced at the boundary that emits the event, never by the state machine.
const (
	SourceLocal    Source = "local"
	SourceRemote   Source = "remote"
	SourceHardware Source = "hardware"
	SourceTimer    Source = "timer"
)

// Category identifies what an event describes.
type Category string

// Event categories.
const (
	CategoryUserArm               Category = "user_arm"
	CategoryUserDisarm            Category = "user_disarm"
	CategoryDoorOpen              Category = "door_open"
	CategoryDoorClose             Category = "door_close"
	CategoryTimerExitExpired      Category = "timer_exit_expired"
	CategoryTimerEntryExpired     Category = "timer_entry_expired"
	CategoryTimerAutoRearmExpired Category = "timer_auto_rearm_expired"
	CategoryTimerSirenExpired     Category = "timer_siren_expired"
	CategorySirenControl          Category = "siren_control"
	CategoryFloodlightControl     Category = "floodlight_control"
	CategoryStateChange           Category = "state_change"
	CategoryConnectivity          Category = "connectivity"
)

// Event is an immutable record created once at the point of origin.
// The JSON field names are the remote wire contract; replay after a
// reconnect uses exactly the same schema as live send.
type Event struct {
	// ID uniquely identifies the event for audit and de-duplication.
	ID uuid.UUID `json:"id"`
	// Timestamp is when the event was created at its origin.
	Timestamp time.Time `json:"ts"`
	// Source is where the event originated.
	Source Source `json:"source"`
	// Category is what the event describes.
	Category Category `json:"category"`
	// Value carries the category-specific payload, may be nil.
	Value any `json:"value,omitempty"`
	// ClientID identifies the controller that created the event.
	ClientID string `json:"client_id"`
}

// New creates an event stamped with a fresh id and the current UTC time.
func New(source Source, category Category, value any, clientID string) Event {
	return Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Category:  category,
		Value:     value,
		ClientID:  clientID,
	}
}

// ArmPayload carries an optional exit delay override for user_arm events.
type ArmPayload struct {
	// ExitDelayS overrides the configured exit delay when positive.
	ExitDelayS int `json:"exit_delay_s,omitempty"`
}

// DisarmPayload carries an optional auto-rearm override for user_disarm events.
type DisarmPayload struct {
	// AutoRearmS overrides the configured auto-rearm delay when positive.
	AutoRearmS int `json:"auto_rearm_s,omitempty"`
}

// ActuatorPayload carries manual siren/floodlight control parameters.
type ActuatorPayload struct {
	// On is the requested output level.
	On bool `json:"on"`
	// DurationS bounds how long the output stays on; zero means until
	// explicitly turned off.
	DurationS int `json:"duration_s,omitempty"`
}

// StateChangePayload is attached to every state_change audit event.
type StateChangePayload struct {
	// Old is the alarm state before the transition.
	Old string `json:"old"`
	// New is the alarm state after the transition.
	New string `json:"new"`
	// TriggerID is the id of the event that caused the transition.
	TriggerID uuid.UUID `json:"trigger_id"`
	// TriggerSource is the source of the triggering event,
	// retained for audit correlation.
	TriggerSource Source `json:"trigger_source"`
}

// ConnectivityPayload is attached to connectivity events.
type ConnectivityPayload struct {
	// Interface is the currently selected network interface, if any.
	Interface string `json:"interface,omitempty"`
	// LinkStatus is the physical link status (up, down, degraded).
	LinkStatus string `json:"link_status"`
	// RemoteStatus is the remote authority link status
	// (online, offline, reconnecting).
	RemoteStatus string `json:"remote_status"`
}
