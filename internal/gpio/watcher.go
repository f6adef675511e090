package gpio

import (
	"context"
	"time"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// pollInterval is the door input sampling period. It must stay well under
// the debounce window so a bounce is sampled several times.
const pollInterval = 10 * time.Millisecond

// Health receives the hardware degradation flag. *status.Store satisfies it.
type Health interface {
	MarkHardwareDegraded()
}

// Watcher samples the door sensor, debounces level changes and publishes
// door_open and door_close events. Only a level that holds for the full
// debounce window becomes an event; reed switch chatter never reaches the
// state machine.
type Watcher struct {
	ctrl     Controller
	bus      *bus.Bus
	health   Health
	debounce time.Duration
	clientID string
}

// NewWatcher creates a door sensor watcher.
func NewWatcher(ctrl Controller, b *bus.Bus, health Health, debounce time.Duration, clientID string) *Watcher {
	return &Watcher{
		ctrl:     ctrl,
		bus:      b,
		health:   health,
		debounce: debounce,
		clientID: clientID,
	}
}

// Run samples the sensor until the context is canceled. The level at
// startup sets the baseline without publishing an event.
func (w *Watcher) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "door_watcher")

	stable, err := w.ctrl.ReadDoorSensor(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Initial door read failed, assuming closed", "error", err)
		w.health.MarkHardwareDegraded()
	}

	logger.InfoKV(ctx, "Door watcher started", "open", stable, "debounce", w.debounce)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var (
		candidate    bool
		pendingSince time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		current, err := w.ctrl.ReadDoorSensor(ctx)
		if err != nil {
			logger.WarnKV(ctx, "Door read failed", "error", err)
			w.health.MarkHardwareDegraded()

			continue
		}

		if current == stable {
			pendingSince = time.Time{}

			continue
		}

		if pendingSince.IsZero() || current != candidate {
			candidate = current
			pendingSince = time.Now()

			continue
		}

		if time.Since(pendingSince) < w.debounce {
			continue
		}

		stable = current
		pendingSince = time.Time{}
		w.publish(ctx, stable)
	}
}

// publish emits the debounced edge as a hardware-sourced event.
func (w *Watcher) publish(ctx context.Context, open bool) {
	category := event.CategoryDoorClose
	if open {
		category = event.CategoryDoorOpen
	}

	logger.InfoKV(ctx, "Door edge", "open", open)
	w.bus.Publish(ctx, event.New(event.SourceHardware, category, nil, w.clientID))
}
