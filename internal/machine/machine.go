package machine

import (
	"context"
	"time"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
	"github.com/oshokin/perimeter-sentinel/internal/timer"
)

// Actuators is the slice of the hardware layer the state machine drives.
type Actuators interface {
	SetSiren(ctx context.Context, on bool) error
	SetFloodlight(ctx context.Context, on bool) error
}

// SnapshotSaver persists the alarm state for status continuity across
// restarts. Persistence failures are logged, never fatal; restored state
// must not re-trigger outputs (the fail-safe boot contract wins).
type SnapshotSaver interface {
	SaveAlarmState(ctx context.Context, state status.AlarmState) error
}

// subscriberBuffer sizes the machine's bus subscription; the machine must
// not miss events, so it subscribes with the bounded-wait policy.
const subscriberBuffer = 256

// Machine is the authoritative finite-state controller. It is the only
// writer of AlarmState and the only component that commands actuators
// through the normal path.
type Machine struct {
	statuses  *status.Store
	bus       *bus.Bus
	timers    *timer.Manager
	actuators Actuators
	cfg       *config.Store
	saver     SnapshotSaver
	clientID  string
	events    <-chan bus.SequencedEvent
}

// New creates the state machine and registers its bus subscription.
// The saver may be nil when snapshot persistence is disabled.
func New(
	statuses *status.Store,
	b *bus.Bus,
	timers *timer.Manager,
	actuators Actuators,
	cfg *config.Store,
	saver SnapshotSaver,
) *Machine {
	return &Machine{
		statuses:  statuses,
		bus:       b,
		timers:    timers,
		actuators: actuators,
		cfg:       cfg,
		saver:     saver,
		clientID:  cfg.Current().System.ClientID,
		events:    b.Subscribe("machine", subscriberBuffer, bus.WaitBounded),
	}
}

// Run consumes bus events until the context is canceled or the bus closes.
func (m *Machine) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "machine")
	logger.InfoKV(ctx, "State machine started", "state", m.statuses.AlarmState())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case se, ok := <-m.events:
			if !ok {
				return nil
			}

			m.Handle(ctx, se.Event)
		}
	}
}

// Handle applies one event: a transition with its side effects, a
// non-transition control action, or a deliberate no-op. Side effects are
// causally ordered: actuator commands are issued before the resulting
// state-change event is published, so no subscriber can observe a state
// whose physical effect has not been requested yet.
func (m *Machine) Handle(ctx context.Context, e event.Event) {
	switch e.Category {
	case event.CategoryTimerSirenExpired:
		// Clears the siren output only; AlarmState does not change.
		m.commandActuators(ctx, actuatorCommand{siren: boolPtr(false)})
		logger.Info(ctx, "Siren cut-off reached, siren off")

		return
	case event.CategorySirenControl:
		m.handleSirenControl(ctx, e)

		return
	case event.CategoryFloodlightControl:
		m.handleFloodlightControl(ctx, e)

		return
	case event.CategoryStateChange, event.CategoryConnectivity:
		// Produced, never consumed, by this component.
		return
	}

	current := m.statuses.AlarmState()

	next, ok := Next(current, e.Category)
	if !ok {
		logger.DebugKV(ctx, "Event ignored in current state",
			"state", current, "category", e.Category, "source", e.Source)

		return
	}

	m.applyTransition(ctx, current, next, e)
}

// applyTransition executes the side effects of an accepted transition and
// publishes the state-change audit event.
func (m *Machine) applyTransition(ctx context.Context, from, to status.AlarmState, trigger event.Event) {
	timers := m.cfg.Current().Timers

	switch {
	case trigger.Category == event.CategoryUserDisarm:
		// Disarm ends the alarm cycle from any state: all timers die and
		// the outputs are forced off before the transition is visible.
		m.timers.CancelAll(ctx)
		m.commandActuators(ctx, actuatorCommand{
			siren:      boolPtr(false),
			floodlight: boolPtr(false),
		})

		if rearm := autoRearmDuration(trigger, timers); rearm > 0 {
			m.timers.Start(ctx, timer.KindAutoRearm, rearm)
			logger.InfoKV(ctx, "Disarmed with auto-rearm pending",
				"auto_rearm", rearm, "source", trigger.Source)
		} else {
			logger.InfoKV(ctx, "Disarmed", "source", trigger.Source)
		}
	case to == status.ExitDelay:
		// Arming (user or auto-rearm) starts the exit grace window.
		// Auto-rearm out of an active alarm also drops the outputs.
		if from == status.Alarm {
			m.commandActuators(ctx, actuatorCommand{
				siren:      boolPtr(false),
				floodlight: boolPtr(false),
			})
		}

		exit := exitDelayDuration(trigger, timers)
		m.timers.Start(ctx, timer.KindExit, exit)
		logger.InfoKV(ctx, "Arming, exit delay started",
			"exit_delay", exit, "source", trigger.Source)
	case to == status.EntryDelay:
		m.timers.Start(ctx, timer.KindEntry, timers.EntryDelay)
		logger.WarnKV(ctx, "Door opened while armed, entry delay started",
			"entry_delay", timers.EntryDelay)
	case to == status.Alarm:
		m.commandActuators(ctx, actuatorCommand{
			siren:      boolPtr(true),
			floodlight: boolPtr(true),
		})
		m.timers.Start(ctx, timer.KindSirenMax, timers.SirenMax)
		logger.Warn(ctx, "ALARM TRIGGERED, siren and floodlight on")
	case to == status.Armed:
		logger.Info(ctx, "Exit delay complete, system armed")
	}

	m.statuses.SetAlarmState(to)
	m.persistSnapshot(ctx, to)

	// Exactly one state-change event per accepted transition, carrying the
	// old and new state and the triggering event id for audit correlation.
	m.bus.Publish(ctx, event.New(trigger.Source, event.CategoryStateChange, event.StateChangePayload{
		Old:           string(from),
		New:           string(to),
		TriggerID:     trigger.ID,
		TriggerSource: trigger.Source,
	}, m.clientID))
}

// handleSirenControl applies a manual siren command without touching
// AlarmState.
func (m *Machine) handleSirenControl(ctx context.Context, e event.Event) {
	payload, ok := e.Value.(event.ActuatorPayload)
	if !ok {
		logger.WarnKV(ctx, "Siren control event without payload, ignored", "id", e.ID)

		return
	}

	m.commandActuators(ctx, actuatorCommand{siren: boolPtr(payload.On)})

	if payload.On && payload.DurationS > 0 {
		m.timers.Start(ctx, timer.KindSirenMax, time.Duration(payload.DurationS)*time.Second)
	}

	if !payload.On {
		m.timers.Cancel(ctx, timer.KindSirenMax)
	}

	logger.InfoKV(ctx, "Manual siren control", "on", payload.On, "source", e.Source)
}

// handleFloodlightControl applies a manual floodlight command without
// touching AlarmState.
func (m *Machine) handleFloodlightControl(ctx context.Context, e event.Event) {
	payload, ok := e.Value.(event.ActuatorPayload)
	if !ok {
		logger.WarnKV(ctx, "Floodlight control event without payload, ignored", "id", e.ID)

		return
	}

	m.commandActuators(ctx, actuatorCommand{floodlight: boolPtr(payload.On)})

	if payload.On && payload.DurationS > 0 {
		m.timers.Start(ctx, timer.KindFloodlight, time.Duration(payload.DurationS)*time.Second)
	}

	if !payload.On {
		m.timers.Cancel(ctx, timer.KindFloodlight)
	}

	logger.InfoKV(ctx, "Manual floodlight control", "on", payload.On, "source", e.Source)
}

// actuatorCommand describes the output levels a transition wants; nil
// fields leave the output untouched.
type actuatorCommand struct {
	siren      *bool
	floodlight *bool
}

// commandActuators issues the hardware commands and then records the
// commanded state. Hardware faults are logged and the controller keeps
// running in degraded mode; the commanded state is still recorded so the
// fail-safe path knows what to force off.
func (m *Machine) commandActuators(ctx context.Context, cmd actuatorCommand) {
	current := m.statuses.Actuators()

	if cmd.siren != nil && *cmd.siren != current.Siren {
		if err := m.actuators.SetSiren(ctx, *cmd.siren); err != nil {
			logger.ErrorKV(ctx, "Siren command failed, continuing degraded", "error", err)
			m.statuses.MarkHardwareDegraded()
		}

		current.Siren = *cmd.siren
	}

	if cmd.floodlight != nil && *cmd.floodlight != current.Floodlight {
		if err := m.actuators.SetFloodlight(ctx, *cmd.floodlight); err != nil {
			logger.ErrorKV(ctx, "Floodlight command failed, continuing degraded", "error", err)
			m.statuses.MarkHardwareDegraded()
		}

		current.Floodlight = *cmd.floodlight
	}

	m.statuses.SetActuators(current)
}

// persistSnapshot saves the alarm state for restart continuity.
func (m *Machine) persistSnapshot(ctx context.Context, state status.AlarmState) {
	if m.saver == nil {
		return
	}

	if err := m.saver.SaveAlarmState(ctx, state); err != nil {
		logger.WarnKV(ctx, "Failed to persist alarm state snapshot", "error", err)
	}
}

// exitDelayDuration resolves the exit delay, honoring a per-event override.
func exitDelayDuration(trigger event.Event, timers config.TimerConfig) time.Duration {
	if payload, ok := trigger.Value.(event.ArmPayload); ok && payload.ExitDelayS > 0 {
		return time.Duration(payload.ExitDelayS) * time.Second
	}

	return timers.ExitDelay
}

// autoRearmDuration resolves the auto-rearm delay, honoring a per-event
// override. Zero disables auto-rearm.
func autoRearmDuration(trigger event.Event, timers config.TimerConfig) time.Duration {
	if payload, ok := trigger.Value.(event.DisarmPayload); ok && payload.AutoRearmS > 0 {
		return time.Duration(payload.AutoRearmS) * time.Second
	}

	return timers.AutoRearm
}

// boolPtr returns a pointer to b.
func boolPtr(b bool) *bool {
	return &b
}
