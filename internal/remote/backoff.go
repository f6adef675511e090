package remote

import (
	"math/rand/v2"
	"time"
)

// backoff computes jittered exponential reconnect delays. Jitter keeps a
// fleet of controllers from hammering the authority in lockstep after an
// outage.
type backoff struct {
	min  time.Duration
	max  time.Duration
	next time.Duration
}

// newBackoff creates a backoff starting at min and capped at max.
func newBackoff(min, max time.Duration) *backoff {
	return &backoff{min: min, max: max, next: min}
}

// Next returns the delay before the next attempt and doubles the window.
// The returned delay is drawn uniformly from [min, window].
func (b *backoff) Next() time.Duration {
	window := b.next

	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}

	if window <= b.min {
		return b.min
	}

	return b.min + rand.N(window-b.min)
}

// Reset returns the window to the minimum. Called only after a connection
// has stayed up for the stability threshold, so one lucky handshake on a
// flapping link does not erase the accumulated backoff.
func (b *backoff) Reset() {
	b.next = b.min
}
