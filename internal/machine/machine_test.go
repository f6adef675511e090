package machine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
	"github.com/oshokin/perimeter-sentinel/internal/timer"
)

// fakeActuators records commanded output levels in call order.
type fakeActuators struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeActuators) SetSiren(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if on {
		f.calls = append(f.calls, "siren_on")
	} else {
		f.calls = append(f.calls, "siren_off")
	}

	return nil
}

func (f *fakeActuators) SetFloodlight(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if on {
		f.calls = append(f.calls, "floodlight_on")
	} else {
		f.calls = append(f.calls, "floodlight_off")
	}

	return nil
}

func (f *fakeActuators) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

// fakeSaver records persisted alarm states.
type fakeSaver struct {
	mu     sync.Mutex
	states []status.AlarmState
}

func (f *fakeSaver) SaveAlarmState(_ context.Context, state status.AlarmState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.states = append(f.states, state)

	return nil
}

// fixture bundles a machine with everything needed to drive and observe it.
type fixture struct {
	machine   *Machine
	statuses  *status.Store
	actuators *fakeActuators
	saver     *fakeSaver
	timers    *timer.Manager
	audit     <-chan bus.SequencedEvent
}

// newFixture builds a machine over a fresh bus with the given timer config.
func newFixture(t *testing.T, timers config.TimerConfig) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Timers = timers

	b := bus.New()
	statuses := status.NewStore()
	manager := timer.NewManager(b, cfg.System.ClientID)
	actuators := &fakeActuators{}
	saver := &fakeSaver{}

	audit := b.Subscribe("audit", 64, bus.WaitBounded)
	m := New(statuses, b, manager, actuators, config.NewStore(cfg), saver)

	return &fixture{
		machine:   m,
		statuses:  statuses,
		actuators: actuators,
		saver:     saver,
		timers:    manager,
		audit:     audit,
	}
}

// nextStateChange drains the audit channel until a state_change arrives.
func (f *fixture) nextStateChange(t *testing.T) event.StateChangePayload {
	t.Helper()

	deadline := time.After(time.Second)

	for {
		select {
		case se := <-f.audit:
			if se.Event.Category != event.CategoryStateChange {
				continue
			}

			payload, ok := se.Event.Value.(event.StateChangePayload)
			require.True(t, ok)

			return payload
		case <-deadline:
			t.Fatal("timed out waiting for state change event")
		}
	}
}

func testTimers() config.TimerConfig {
	return config.TimerConfig{
		ExitDelay:  time.Hour,
		EntryDelay: time.Hour,
		SirenMax:   time.Hour,
	}
}

// TestMachine_ArmDisarmCycle runs arm, then disarm before the exit delay.
func TestMachine_ArmDisarmCycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	arm := event.New(event.SourceLocal, event.CategoryUserArm, nil, "test")
	f.machine.Handle(ctx, arm)

	require.Equal(t, status.ExitDelay, f.statuses.AlarmState())
	require.True(t, f.timers.Active(timer.KindExit))

	change := f.nextStateChange(t)
	require.Equal(t, string(status.Disarmed), change.Old)
	require.Equal(t, string(status.ExitDelay), change.New)
	require.Equal(t, arm.ID, change.TriggerID)
	require.Equal(t, event.SourceLocal, change.TriggerSource)

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserDisarm, nil, "test"))
	require.Equal(t, status.Disarmed, f.statuses.AlarmState())
	require.False(t, f.timers.Active(timer.KindExit))
}

// TestMachine_FullIntrusionSequence walks disarmed -> exit_delay -> armed
// -> entry_delay -> alarm and checks outputs at the end.
func TestMachine_FullIntrusionSequence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerExitExpired, nil, "test"))
	require.Equal(t, status.Armed, f.statuses.AlarmState())

	f.machine.Handle(ctx, event.New(event.SourceHardware, event.CategoryDoorOpen, nil, "test"))
	require.Equal(t, status.EntryDelay, f.statuses.AlarmState())
	require.True(t, f.timers.Active(timer.KindEntry))

	// Closing the door must not cancel the entry countdown.
	f.machine.Handle(ctx, event.New(event.SourceHardware, event.CategoryDoorClose, nil, "test"))
	require.Equal(t, status.EntryDelay, f.statuses.AlarmState())
	require.True(t, f.timers.Active(timer.KindEntry))

	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerEntryExpired, nil, "test"))
	require.Equal(t, status.Alarm, f.statuses.AlarmState())

	outputs := f.statuses.Actuators()
	require.True(t, outputs.Siren)
	require.True(t, outputs.Floodlight)
	require.True(t, f.timers.Active(timer.KindSirenMax))

	// Actuator commands were issued before the alarm transition published.
	require.Contains(t, f.actuators.recorded(), "siren_on")
	require.Contains(t, f.actuators.recorded(), "floodlight_on")
}

// TestMachine_DisarmFromAlarm verifies disarm kills outputs and timers.
func TestMachine_DisarmFromAlarm(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerExitExpired, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceHardware, event.CategoryDoorOpen, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerEntryExpired, nil, "test"))
	require.Equal(t, status.Alarm, f.statuses.AlarmState())

	f.machine.Handle(ctx, event.New(event.SourceRemote, event.CategoryUserDisarm, nil, "test"))

	require.Equal(t, status.Disarmed, f.statuses.AlarmState())
	require.Equal(t, status.ActuatorState{}, f.statuses.Actuators())
	require.False(t, f.timers.Active(timer.KindSirenMax))
	require.False(t, f.timers.Active(timer.KindEntry))
}

// TestMachine_DisarmStartsAutoRearm verifies the auto-rearm countdown and
// that expiry re-enters via the exit sequence.
func TestMachine_DisarmStartsAutoRearm(t *testing.T) {
	t.Parallel()

	timersCfg := testTimers()
	timersCfg.AutoRearm = time.Hour

	f := newFixture(t, timersCfg)
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserDisarm, nil, "test"))
	require.True(t, f.timers.Active(timer.KindAutoRearm))

	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerAutoRearmExpired, nil, "test"))
	require.Equal(t, status.ExitDelay, f.statuses.AlarmState())
	require.True(t, f.timers.Active(timer.KindExit))
}

// TestMachine_NoAutoRearmWhenDisabled verifies auto_rearm = 0 never starts
// the countdown.
func TestMachine_NoAutoRearmWhenDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserDisarm, nil, "test"))

	require.False(t, f.timers.Active(timer.KindAutoRearm))
}

// TestMachine_ExitDelayOverride verifies a per-event exit delay override.
func TestMachine_ExitDelayOverride(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserArm,
		event.ArmPayload{ExitDelayS: 1}, "test"))
	require.Equal(t, status.ExitDelay, f.statuses.AlarmState())

	// The 1s override is in force, not the 1h config value.
	require.Eventually(t, func() bool {
		return !f.timers.Active(timer.KindExit)
	}, 3*time.Second, 20*time.Millisecond)
}

// TestMachine_SirenExpiryClearsSirenOnly verifies the siren cut-off leaves
// the alarm state and floodlight untouched.
func TestMachine_SirenExpiryClearsSirenOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerExitExpired, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceHardware, event.CategoryDoorOpen, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerEntryExpired, nil, "test"))

	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerSirenExpired, nil, "test"))

	require.Equal(t, status.Alarm, f.statuses.AlarmState())
	outputs := f.statuses.Actuators()
	require.False(t, outputs.Siren)
	require.True(t, outputs.Floodlight)
}

// TestMachine_ManualActuatorControl verifies siren/floodlight control
// events drive outputs without changing the alarm state.
func TestMachine_ManualActuatorControl(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategorySirenControl,
		event.ActuatorPayload{On: true, DurationS: 3600}, "test"))
	require.True(t, f.statuses.Actuators().Siren)
	require.True(t, f.timers.Active(timer.KindSirenMax))
	require.Equal(t, status.Disarmed, f.statuses.AlarmState())

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategorySirenControl,
		event.ActuatorPayload{On: false}, "test"))
	require.False(t, f.statuses.Actuators().Siren)
	require.False(t, f.timers.Active(timer.KindSirenMax))

	f.machine.Handle(ctx, event.New(event.SourceRemote, event.CategoryFloodlightControl,
		event.ActuatorPayload{On: true}, "test"))
	require.True(t, f.statuses.Actuators().Floodlight)
	require.Equal(t, status.Disarmed, f.statuses.AlarmState())
}

// TestMachine_PersistsSnapshotOnTransitions verifies every accepted
// transition reaches the saver.
func TestMachine_PersistsSnapshotOnTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
	f.machine.Handle(ctx, event.New(event.SourceTimer, event.CategoryTimerExitExpired, nil, "test"))

	f.saver.mu.Lock()
	defer f.saver.mu.Unlock()

	require.Equal(t, []status.AlarmState{status.ExitDelay, status.Armed}, f.saver.states)
}

// TestMachine_IgnoresUnknownPairs verifies out-of-table events change nothing.
func TestMachine_IgnoresUnknownPairs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testTimers())
	ctx := context.Background()

	f.machine.Handle(ctx, event.New(event.SourceHardware, event.CategoryDoorOpen, nil, "test"))
	require.Equal(t, status.Disarmed, f.statuses.AlarmState())

	f.machine.Handle(ctx, event.New(event.SourceLocal, event.CategoryUserDisarm, nil, "test"))
	require.Equal(t, status.Disarmed, f.statuses.AlarmState())
	require.Empty(t, f.actuators.recorded())
}
