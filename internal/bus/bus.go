package bus

import (
	"context"
	"sync"
	"time"

	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// SequencedEvent is an event with the monotonic sequence number assigned
// at ingestion. The sequence is the replay ordering key: it is independent
// of wall-clock time, so ordering survives clock skew.
type SequencedEvent struct {
	// Seq is the ingestion sequence number, starting at 1.
	Seq uint64
	// Event is the published event.
	Event event.Event
}

// DeliveryPolicy controls what happens when a subscriber's channel is full.
type DeliveryPolicy int

const (
	// DropWhenFull discards the event for this subscriber with a log line.
	// Suitable for live streaming consumers that can tolerate gaps.
	DropWhenFull DeliveryPolicy = iota
	// WaitBounded blocks the publisher for a bounded window, then drops
	// with an error log. Used by consumers that must not miss events
	// (state machine, durable queue); a drop here means the consumer has
	// stalled and the daemon is already degraded.
	WaitBounded
)

// waitBoundedTimeout is the bounded publish window for WaitBounded
// subscribers. Nothing may block indefinitely.
const waitBoundedTimeout = time.Second

// subscriber is one registered consumer. The channel is guarded by its own
// mutex: a delivery in flight and a close must never overlap, or the
// publisher panics on a closed channel.
type subscriber struct {
	name   string
	policy DeliveryPolicy

	mu     sync.Mutex
	ch     chan SequencedEvent
	closed bool
}

// send delivers one event honoring the subscriber's policy. Holding the
// lock across the send serializes delivery against shutdown; a subscriber
// removed mid-publish simply stops receiving.
func (s *subscriber) send(ctx context.Context, se SequencedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.ch <- se:
		return
	default:
	}

	if s.policy == DropWhenFull {
		logger.DebugKV(ctx, "Subscriber lagging, event dropped",
			"subscriber", s.name, "seq", se.Seq, "category", se.Event.Category)

		return
	}

	// WaitBounded: give the consumer a bounded window to catch up.
	timer := time.NewTimer(waitBoundedTimeout)
	defer timer.Stop()

	select {
	case s.ch <- se:
	case <-timer.C:
		logger.ErrorKV(ctx, "Subscriber stalled past bounded wait, event dropped",
			"subscriber", s.name, "seq", se.Seq, "category", se.Event.Category)
	case <-ctx.Done():
		logger.WarnKV(ctx, "Publish canceled during bounded wait",
			"subscriber", s.name, "seq", se.Seq)
	}
}

// shutdown closes the channel once, after any in-flight delivery finishes.
func (s *subscriber) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.ch)
}

// Bus is the in-process fan-out of typed events from all input sources to
// all consumers. Publishing from a single goroutine guarantees that
// subscribers observe that source's events in emission order.
type Bus struct {
	mu          sync.Mutex
	seq         uint64
	subscribers []*subscriber
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a consumer and returns its delivery channel.
// The buffer size bounds how far the consumer may lag before the policy
// applies. The channel is closed by Close.
func (b *Bus) Subscribe(name string, buffer int, policy DeliveryPolicy) <-chan SequencedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		name:   name,
		policy: policy,
		ch:     make(chan SequencedEvent, buffer),
	}

	if b.closed {
		sub.closed = true
		close(sub.ch)

		return sub.ch
	}

	b.subscribers = append(b.subscribers, sub)

	return sub.ch
}

// Unsubscribe removes the consumer registered under name and closes its
// channel. Unknown names are a no-op. The close waits for any delivery in
// flight, so a publisher can never hit a closed channel.
func (b *Bus) Unsubscribe(name string) {
	var removed *subscriber

	b.mu.Lock()

	for i, sub := range b.subscribers {
		if sub.name != name {
			continue
		}

		b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
		removed = sub

		break
	}

	b.mu.Unlock()

	if removed != nil {
		removed.shutdown()
	}
}

// Publish assigns the next sequence number and delivers the event to every
// subscriber. Delivery to one subscriber never blocks delivery to another
// indefinitely; full channels are handled per the subscriber's policy.
func (b *Bus) Publish(ctx context.Context, e event.Event) uint64 {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()

		return 0
	}

	b.seq++
	seq := b.seq
	targets := make([]*subscriber, len(b.subscribers))
	copy(targets, b.subscribers)
	b.mu.Unlock()

	se := SequencedEvent{Seq: seq, Event: e}

	for _, sub := range targets {
		sub.send(ctx, se)
	}

	return seq
}

// LastSeq returns the sequence number of the most recently published event.
func (b *Bus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.seq
}

// Close closes every subscriber channel. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return
	}

	b.closed = true
	subs := b.subscribers
	b.subscribers = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
}
