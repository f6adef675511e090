package machine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
)

// TestNext_Table pins every documented transition.
func TestNext_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from     status.AlarmState
		category event.Category
		to       status.AlarmState
	}{
		{status.Disarmed, event.CategoryUserArm, status.ExitDelay},
		{status.ExitDelay, event.CategoryTimerExitExpired, status.Armed},
		{status.ExitDelay, event.CategoryUserDisarm, status.Disarmed},
		{status.Armed, event.CategoryDoorOpen, status.EntryDelay},
		{status.Armed, event.CategoryUserDisarm, status.Disarmed},
		{status.EntryDelay, event.CategoryTimerEntryExpired, status.Alarm},
		{status.EntryDelay, event.CategoryUserDisarm, status.Disarmed},
		{status.Alarm, event.CategoryUserDisarm, status.Disarmed},
		{status.Alarm, event.CategoryTimerAutoRearmExpired, status.ExitDelay},
		{status.Disarmed, event.CategoryTimerAutoRearmExpired, status.ExitDelay},
	}

	for _, tc := range cases {
		got, ok := Next(tc.from, tc.category)
		require.True(t, ok, "%s + %s", tc.from, tc.category)
		require.Equal(t, tc.to, got, "%s + %s", tc.from, tc.category)
	}
}

// TestNext_Deterministic verifies the same (state, event) pair always
// yields the same result.
func TestNext_Deterministic(t *testing.T) {
	t.Parallel()

	states := []status.AlarmState{status.Disarmed, status.ExitDelay, status.Armed, status.EntryDelay, status.Alarm}
	categories := []event.Category{
		event.CategoryUserArm, event.CategoryUserDisarm,
		event.CategoryDoorOpen, event.CategoryDoorClose,
		event.CategoryTimerExitExpired, event.CategoryTimerEntryExpired,
		event.CategoryTimerAutoRearmExpired, event.CategoryTimerSirenExpired,
	}

	for _, s := range states {
		for _, c := range categories {
			firstState, firstOK := Next(s, c)
			secondState, secondOK := Next(s, c)
			require.Equal(t, firstOK, secondOK)
			require.Equal(t, firstState, secondState)
		}
	}
}

// TestNext_IgnoredPairs pins the deliberate no-ops, in particular that
// door_close never cancels the entry delay.
func TestNext_IgnoredPairs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from     status.AlarmState
		category event.Category
	}{
		{status.EntryDelay, event.CategoryDoorClose},
		{status.EntryDelay, event.CategoryDoorOpen},
		{status.Disarmed, event.CategoryUserDisarm},
		{status.Disarmed, event.CategoryDoorOpen},
		{status.Armed, event.CategoryUserArm},
		{status.Armed, event.CategoryTimerEntryExpired},
		{status.Alarm, event.CategoryDoorOpen},
		{status.ExitDelay, event.CategoryDoorOpen},
	}

	for _, tc := range cases {
		_, ok := Next(tc.from, tc.category)
		require.False(t, ok, "%s + %s must be ignored", tc.from, tc.category)
	}
}
