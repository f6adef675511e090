package timer

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// Kind names one of the countdowns the alarm cycle uses.
// At most one timer per kind is ever active.
type Kind string

// Timer kinds.
const (
	KindExit       Kind = "exit"
	KindEntry      Kind = "entry"
	KindAutoRearm  Kind = "auto_rearm"
	KindSirenMax   Kind = "siren_max"
	KindFloodlight Kind = "floodlight"
)

// handle tracks one scheduled countdown. The canceled flag is the
// single-fire guard: expiry checks it under the manager lock, so a cancel
// that races an expiry already past its window wins deterministically.
type handle struct {
	timer    *time.Timer
	canceled bool
}

// Manager spawns and cancels named countdown timers and publishes their
// expiries onto the event bus exactly once.
type Manager struct {
	mu       sync.Mutex
	timers   map[Kind]*handle
	bus      *bus.Bus
	clientID string
}

// NewManager creates a manager publishing expiry events for clientID.
func NewManager(b *bus.Bus, clientID string) *Manager {
	return &Manager{
		timers:   make(map[Kind]*handle),
		bus:      b,
		clientID: clientID,
	}
}

// Start schedules a countdown of the given kind, replacing any existing
// timer of the same kind.
func (m *Manager) Start(ctx context.Context, kind Kind, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.timers[kind]; ok {
		existing.canceled = true
		existing.timer.Stop()
	}

	h := &handle{}
	h.timer = time.AfterFunc(duration, func() {
		m.expire(ctx, kind, h)
	})
	m.timers[kind] = h

	logger.DebugKV(ctx, "Timer started", "kind", kind, "duration", duration)
}

// Cancel stops the timer of the given kind. Cancelling an absent or
// already-fired timer is a no-op, never an error.
func (m *Manager) Cancel(ctx context.Context, kind Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.timers[kind]
	if !ok {
		return
	}

	h.canceled = true
	h.timer.Stop()
	delete(m.timers, kind)

	logger.DebugKV(ctx, "Timer canceled", "kind", kind)
}

// CancelAll stops every active timer. Used on disarm to end the alarm cycle.
func (m *Manager) CancelAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for kind, h := range m.timers {
		h.canceled = true
		h.timer.Stop()
		delete(m.timers, kind)
	}

	logger.Debug(ctx, "All timers canceled")
}

// Active reports whether a timer of the given kind is currently scheduled.
func (m *Manager) Active(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.timers[kind]

	return ok
}

// expire publishes the expiry event unless the handle was canceled or
// replaced while the callback was pending.
func (m *Manager) expire(ctx context.Context, kind Kind, h *handle) {
	m.mu.Lock()
	if h.canceled || m.timers[kind] != h {
		m.mu.Unlock()

		return
	}

	delete(m.timers, kind)
	m.mu.Unlock()

	m.bus.Publish(ctx, m.expiryEvent(kind))
	logger.DebugKV(ctx, "Timer expired", "kind", kind)
}

// expiryEvent maps a timer kind to its bus event.
func (m *Manager) expiryEvent(kind Kind) event.Event {
	switch kind {
	case KindExit:
		return event.New(event.SourceTimer, event.CategoryTimerExitExpired, nil, m.clientID)
	case KindEntry:
		return event.New(event.SourceTimer, event.CategoryTimerEntryExpired, nil, m.clientID)
	case KindAutoRearm:
		return event.New(event.SourceTimer, event.CategoryTimerAutoRearmExpired, nil, m.clientID)
	case KindSirenMax:
		return event.New(event.SourceTimer, event.CategoryTimerSirenExpired, nil, m.clientID)
	case KindFloodlight:
		return event.New(event.SourceTimer, event.CategoryFloodlightControl,
			event.ActuatorPayload{On: false}, m.clientID)
	default:
		return event.New(event.SourceTimer, event.CategoryTimerSirenExpired, nil, m.clientID)
	}
}
