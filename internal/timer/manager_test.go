package timer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
)

// newTestManager wires a manager to a bus subscription for expiry assertions.
func newTestManager(t *testing.T) (*Manager, <-chan bus.SequencedEvent) {
	t.Helper()

	b := bus.New()
	ch := b.Subscribe("test", 16, bus.WaitBounded)

	return NewManager(b, "test-client"), ch
}

// waitForEvent reads one event or fails the test after a deadline.
func waitForEvent(t *testing.T, ch <-chan bus.SequencedEvent, within time.Duration) bus.SequencedEvent {
	t.Helper()

	select {
	case got := <-ch:
		return got
	case <-time.After(within):
		t.Fatal("timed out waiting for event")

		return bus.SequencedEvent{}
	}
}

// TestManager_ExpiryPublishesMappedEvent verifies each kind maps to its
// expiry category.
func TestManager_ExpiryPublishesMappedEvent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind Kind
		want event.Category
	}{
		{KindExit, event.CategoryTimerExitExpired},
		{KindEntry, event.CategoryTimerEntryExpired},
		{KindAutoRearm, event.CategoryTimerAutoRearmExpired},
		{KindSirenMax, event.CategoryTimerSirenExpired},
		{KindFloodlight, event.CategoryFloodlightControl},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			t.Parallel()

			m, ch := newTestManager(t)
			m.Start(context.Background(), tc.kind, 10*time.Millisecond)

			got := waitForEvent(t, ch, time.Second)
			require.Equal(t, tc.want, got.Event.Category)
			require.Equal(t, event.SourceTimer, got.Event.Source)
			require.False(t, m.Active(tc.kind))
		})
	}
}

// TestManager_CancelIsIdempotent verifies double cancel and cancel of an
// already-fired timer never error and never duplicate an expiry.
func TestManager_CancelIsIdempotent(t *testing.T) {
	t.Parallel()

	m, ch := newTestManager(t)
	ctx := context.Background()

	// Cancel with nothing scheduled.
	m.Cancel(ctx, KindExit)

	m.Start(ctx, KindExit, 10*time.Millisecond)
	got := waitForEvent(t, ch, time.Second)
	require.Equal(t, event.CategoryTimerExitExpired, got.Event.Category)

	// Cancel after fire, twice.
	m.Cancel(ctx, KindExit)
	m.Cancel(ctx, KindExit)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected duplicate expiry: %v", extra.Event.Category)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestManager_CancelPreventsExpiry verifies a canceled timer never fires.
func TestManager_CancelPreventsExpiry(t *testing.T) {
	t.Parallel()

	m, ch := newTestManager(t)
	ctx := context.Background()

	m.Start(ctx, KindEntry, 30*time.Millisecond)
	m.Cancel(ctx, KindEntry)
	require.False(t, m.Active(KindEntry))

	select {
	case got := <-ch:
		t.Fatalf("expiry delivered after cancel: %v", got.Event.Category)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestManager_StartReplacesExisting verifies restarting a kind yields a
// single expiry on the new schedule.
func TestManager_StartReplacesExisting(t *testing.T) {
	t.Parallel()

	m, ch := newTestManager(t)
	ctx := context.Background()

	m.Start(ctx, KindSirenMax, 20*time.Millisecond)
	m.Start(ctx, KindSirenMax, 60*time.Millisecond)

	// The first schedule must not fire.
	select {
	case got := <-ch:
		t.Fatalf("replaced timer fired: %v", got.Event.Category)
	case <-time.After(40 * time.Millisecond):
	}

	got := waitForEvent(t, ch, time.Second)
	require.Equal(t, event.CategoryTimerSirenExpired, got.Event.Category)

	select {
	case extra := <-ch:
		t.Fatalf("duplicate expiry: %v", extra.Event.Category)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestManager_CancelAll verifies every pending countdown is stopped.
func TestManager_CancelAll(t *testing.T) {
	t.Parallel()

	m, ch := newTestManager(t)
	ctx := context.Background()

	m.Start(ctx, KindExit, 30*time.Millisecond)
	m.Start(ctx, KindEntry, 30*time.Millisecond)
	m.Start(ctx, KindAutoRearm, 30*time.Millisecond)
	m.CancelAll(ctx)

	require.False(t, m.Active(KindExit))
	require.False(t, m.Active(KindEntry))
	require.False(t, m.Active(KindAutoRearm))

	select {
	case got := <-ch:
		t.Fatalf("expiry after CancelAll: %v", got.Event.Category)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestManager_FloodlightExpiryCarriesOffPayload verifies the floodlight
// cut-off arrives as a control event turning the output off.
func TestManager_FloodlightExpiryCarriesOffPayload(t *testing.T) {
	t.Parallel()

	m, ch := newTestManager(t)
	m.Start(context.Background(), KindFloodlight, 10*time.Millisecond)

	got := waitForEvent(t, ch, time.Second)
	payload, ok := got.Event.Value.(event.ActuatorPayload)
	require.True(t, ok)
	require.False(t, payload.On)
}
