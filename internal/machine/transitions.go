package machine

import (
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
)

// transitionKey pairs the current state with the triggering event category.
type transitionKey struct {
	state    status.AlarmState
	category event.Category
}

// transitions is the authoritative table. Anything absent from it is a
// deliberate no-op, not an error.
//
// door_close during entry_delay is intentionally absent: the entry delay
// is a grace window for disarming, not for the door closing. Changing that
// changes the security guarantee.
//
//nolint:gochecknoglobals // The transition table is immutable shared data.
var transitions = map[transitionKey]status.AlarmState{
	{status.Disarmed, event.CategoryUserArm}:                status.ExitDelay,
	{status.ExitDelay, event.CategoryTimerExitExpired}:      status.Armed,
	{status.ExitDelay, event.CategoryUserDisarm}:            status.Disarmed,
	{status.Armed, event.CategoryDoorOpen}:                  status.EntryDelay,
	{status.Armed, event.CategoryUserDisarm}:                status.Disarmed,
	{status.EntryDelay, event.CategoryTimerEntryExpired}:    status.Alarm,
	{status.EntryDelay, event.CategoryUserDisarm}:           status.Disarmed,
	{status.Alarm, event.CategoryUserDisarm}:                status.Disarmed,
	{status.Alarm, event.CategoryTimerAutoRearmExpired}:     status.ExitDelay,
	{status.Disarmed, event.CategoryTimerAutoRearmExpired}:  status.ExitDelay,
}

// Next returns the state reached by applying the event category to the
// current state. The second return is false when the table has no entry,
// in which case the event must be ignored.
func Next(current status.AlarmState, category event.Category) (status.AlarmState, bool) {
	next, ok := transitions[transitionKey{current, category}]

	return next, ok
}
