package bus

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
)

// TestBus_FanOut verifies every subscriber receives every event.
func TestBus_FanOut(t *testing.T) {
	t.Parallel()

	b := New()
	first := b.Subscribe("first", 8, WaitBounded)
	second := b.Subscribe("second", 8, WaitBounded)

	ctx := context.Background()
	e := event.New(event.SourceHardware, event.CategoryDoorOpen, nil, "test")
	seq := b.Publish(ctx, e)
	require.Equal(t, uint64(1), seq)

	got := <-first
	require.Equal(t, uint64(1), got.Seq)
	require.Equal(t, e.ID, got.Event.ID)

	got = <-second
	require.Equal(t, e.ID, got.Event.ID)
}

// TestBus_PerSourceOrdering verifies a single producer's events arrive in
// emission order with increasing sequence numbers.
func TestBus_PerSourceOrdering(t *testing.T) {
	t.Parallel()

	b := New()
	ch := b.Subscribe("machine", 128, WaitBounded)
	ctx := context.Background()

	const n = 100
	for i := 0; i < n; i++ {
		b.Publish(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
	}

	var last uint64
	for i := 0; i < n; i++ {
		got := <-ch
		require.Greater(t, got.Seq, last)
		last = got.Seq
	}
}

// TestBus_ConcurrentProducers verifies sequence numbers are unique and
// dense under concurrent publishing.
func TestBus_ConcurrentProducers(t *testing.T) {
	t.Parallel()

	b := New()
	ch := b.Subscribe("queue", 1024, WaitBounded)
	ctx := context.Background()

	const producers, perProducer = 8, 50

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < perProducer; i++ {
				b.Publish(ctx, event.New(event.SourceLocal, event.CategoryUserDisarm, nil, "test"))
			}
		}()
	}

	wg.Wait()

	seen := make(map[uint64]bool, producers*perProducer)
	for i := 0; i < producers*perProducer; i++ {
		got := <-ch
		require.False(t, seen[got.Seq], "duplicate seq %d", got.Seq)
		seen[got.Seq] = true
	}

	require.Equal(t, uint64(producers*perProducer), b.LastSeq())
}

// TestBus_DropWhenFull verifies lagging stream subscribers lose events
// without blocking the publisher.
func TestBus_DropWhenFull(t *testing.T) {
	t.Parallel()

	b := New()
	ch := b.Subscribe("stream", 1, DropWhenFull)
	ctx := context.Background()

	b.Publish(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
	// Buffer is full now; this one is dropped for the stream subscriber.
	b.Publish(ctx, event.New(event.SourceLocal, event.CategoryUserDisarm, nil, "test"))

	got := <-ch
	require.Equal(t, event.CategoryUserArm, got.Event.Category)

	select {
	case unexpected, ok := <-ch:
		require.False(t, ok, "expected no second delivery, got %v", unexpected)
	default:
	}
}

// TestBus_Unsubscribe verifies removal closes the channel and stops delivery.
func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	ch := b.Subscribe("gone", 4, DropWhenFull)
	b.Unsubscribe("gone")

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after unsubscribe must not panic.
	b.Publish(context.Background(), event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
}

// TestBus_UnsubscribeDuringBoundedWait verifies removing a subscriber while
// a publisher is parked waiting on its full channel never panics: the
// publisher either completes the delivery or observes the removal.
func TestBus_UnsubscribeDuringBoundedWait(t *testing.T) {
	t.Parallel()

	b := New()
	b.Subscribe("stalled", 0, WaitBounded)
	ctx := context.Background()

	done := make(chan struct{})

	go func() {
		defer close(done)

		// No consumer reads, so this parks in the bounded wait until the
		// subscriber goes away.
		b.Publish(ctx, event.New(event.SourceHardware, event.CategoryDoorOpen, nil, "test"))
	}()

	b.Unsubscribe("stalled")

	select {
	case <-done:
	case <-time.After(2 * waitBoundedTimeout):
		t.Fatal("publish did not return after unsubscribe")
	}
}

// TestBus_ConcurrentPublishUnsubscribe churns stream subscribers while
// publishers run flat out, the pattern of websocket clients detaching from
// the live event stream mid-traffic.
func TestBus_ConcurrentPublishUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	ctx := context.Background()

	const publishers, rounds = 4, 50

	var wg sync.WaitGroup

	for p := 0; p < publishers; p++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := 0; i < rounds; i++ {
				b.Publish(ctx, event.New(event.SourceLocal, event.CategoryUserArm, nil, "test"))
			}
		}()
	}

	for i := 0; i < rounds; i++ {
		name := "stream-" + strconv.Itoa(i)
		ch := b.Subscribe(name, 0, DropWhenFull)
		b.Unsubscribe(name)

		_, ok := <-ch
		require.False(t, ok)
	}

	wg.Wait()
	require.Equal(t, uint64(publishers*rounds), b.LastSeq())
}

// TestBus_SubscribeAfterClose verifies a late subscriber gets a closed
// channel instead of one that never delivers.
func TestBus_SubscribeAfterClose(t *testing.T) {
	t.Parallel()

	b := New()
	b.Close()

	ch := b.Subscribe("late", 4, DropWhenFull)

	_, ok := <-ch
	require.False(t, ok)
}

// TestBus_Close verifies Close shuts subscriber channels and disables Publish.
func TestBus_Close(t *testing.T) {
	t.Parallel()

	b := New()
	ch := b.Subscribe("machine", 4, WaitBounded)
	b.Close()

	_, ok := <-ch
	require.False(t, ok)

	require.Zero(t, b.Publish(context.Background(), event.New(event.SourceLocal, event.CategoryUserArm, nil, "test")))

	// Double close is safe.
	b.Close()
}
