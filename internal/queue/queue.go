package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// Entry is one durably queued event awaiting remote acknowledgement.
type Entry struct {
	// Seq is the queue sequence number, monotonic across restarts.
	// It is the replay ordering and acknowledgement key.
	Seq uint64 `json:"seq"`
	// EnqueuedAt is when the entry was appended, in UTC.
	EnqueuedAt time.Time `json:"enqueued_at"`
	// Attempts counts how many times the entry was handed out for replay.
	Attempts int `json:"attempts"`
	// Event is the queued event.
	Event event.Event `json:"event"`
}

// Health receives the latched degradation flags the queue can raise.
// *status.Store satisfies it.
type Health interface {
	MarkStorageDegraded()
	MarkEventsPruned()
}

// cursorFilename holds the highest acknowledged (or pruned) sequence.
// Entries at or below it are never replayed again, even across restarts.
const cursorFilename = "cursor"

// ringCapacity bounds the in-memory fallback used when storage fails.
// The newest events are kept; older ones are dropped with a pruned mark.
const ringCapacity = 100

// subscriberBuffer sizes the queue's bus subscription. The queue must see
// every event, so it subscribes with the bounded-wait policy.
const subscriberBuffer = 1024

// Queue is the durable store-and-forward buffer between the event bus and
// the remote authority. Events are appended to rotating JSON-line segment
// files and released only by acknowledgement. When storage fails the queue
// degrades to a bounded in-memory ring instead of stopping the daemon.
type Queue struct {
	dir    string
	cfg    config.QueueConfig
	health Health
	events <-chan bus.SequencedEvent

	mu       sync.Mutex
	pending  []Entry
	segments []segmentInfo
	active   *os.File
	nextSeq  uint64
	floor    uint64
	dirty    bool
	degraded bool
}

// New opens (or creates) the queue under dir, recovers the pending entries
// from disk and registers the bus subscription. Storage faults during
// recovery degrade the queue to memory-only operation; they never fail
// startup.
func New(ctx context.Context, b *bus.Bus, dir string, cfg config.QueueConfig, health Health) *Queue {
	ctx = logger.WithName(ctx, "queue")

	q := &Queue{
		dir:     dir,
		cfg:     cfg,
		health:  health,
		events:  b.Subscribe("queue", subscriberBuffer, bus.WaitBounded),
		nextSeq: 1,
	}

	if err := q.recover(ctx); err != nil {
		logger.ErrorKV(ctx, "Queue storage unavailable, degrading to in-memory ring", "error", err)
		q.enterDegradedLocked(ctx)
	}

	logger.InfoKV(ctx, "Queue opened",
		"pending", len(q.pending), "next_seq", q.nextSeq, "degraded", q.degraded)

	return q
}

// recover rebuilds the in-memory index from the segment files and the ack
// cursor, then reopens the newest segment for appending.
func (q *Queue) recover(ctx context.Context) error {
	if err := os.MkdirAll(q.dir, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create queue dir: %w", err)
	}

	q.floor = q.readCursor(ctx)

	segments, err := listSegments(q.dir)
	if err != nil {
		return err
	}

	for i := range segments {
		entries, validBytes, torn, readErr := readSegment(segments[i].path)
		if readErr != nil {
			return readErr
		}

		if torn {
			// Drop the partial record so later appends land on a record
			// boundary.
			if truncErr := os.Truncate(segments[i].path, validBytes); truncErr != nil {
				return fmt.Errorf("truncate torn segment: %w", truncErr)
			}

			segments[i].size = validBytes
			logger.WarnKV(ctx, "Discarded torn trailing record",
				"segment", filepath.Base(segments[i].path))
		}

		for _, entry := range entries {
			if entry.Seq > segments[i].lastSeq {
				segments[i].lastSeq = entry.Seq
			}

			if entry.Seq >= q.nextSeq {
				q.nextSeq = entry.Seq + 1
			}

			if entry.Seq <= q.floor {
				continue
			}

			q.pending = append(q.pending, entry)
		}
	}

	q.segments = segments

	// After a full acknowledgement every entry may be gone from disk; the
	// sequence counter must still continue past the cursor.
	if q.floor >= q.nextSeq {
		q.nextSeq = q.floor + 1
	}

	// Delete segments that are already fully acknowledged.
	q.reapSegmentsLocked(ctx)

	// Reopen the newest segment, or start fresh.
	if len(q.segments) == 0 {
		return q.openSegmentLocked(1)
	}

	last := q.segments[len(q.segments)-1]

	f, err := os.OpenFile(filepath.Clean(last.path),
		os.O_WRONLY|os.O_APPEND, config.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("reopen segment: %w", err)
	}

	q.active = f
	q.pruneLocked(ctx, time.Now().UTC())

	return nil
}

// Run consumes bus events into the queue and syncs the open segment on the
// flush interval, until the context is canceled or the bus closes.
func (q *Queue) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "queue")

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.Flush(ctx)
		case se, ok := <-q.events:
			if !ok {
				return nil
			}

			q.Enqueue(ctx, se.Event)
		}
	}
}

// Enqueue appends one event and returns its queue sequence number. Storage
// faults flip the queue into degraded in-memory mode; the event is kept
// either way.
func (q *Queue) Enqueue(ctx context.Context, e event.Event) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := Entry{
		Seq:        q.nextSeq,
		EnqueuedAt: time.Now().UTC(),
		Event:      e,
	}
	q.nextSeq++

	if !q.degraded {
		if err := q.appendLocked(ctx, entry); err != nil {
			logger.ErrorKV(ctx, "Segment append failed, degrading to in-memory ring",
				"error", err, "seq", entry.Seq)
			q.enterDegradedLocked(ctx)
		}
	}

	q.pending = append(q.pending, entry)
	q.pruneLocked(ctx, entry.EnqueuedAt)

	return entry.Seq
}

// appendLocked writes one entry to the active segment, rotating first when
// the segment is full.
func (q *Queue) appendLocked(ctx context.Context, entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	line = append(line, '\n')

	last := len(q.segments) - 1
	if q.segments[last].size+int64(len(line)) > q.cfg.SegmentMaxBytes && q.segments[last].size > 0 {
		if err := q.rotateLocked(ctx); err != nil {
			return err
		}

		last = len(q.segments) - 1
	}

	n, err := q.active.Write(line)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}

	q.segments[last].size += int64(n)
	q.segments[last].lastSeq = entry.Seq
	q.dirty = true

	return nil
}

// rotateLocked syncs and closes the active segment and opens the next one.
// Rotation is a durability point: everything in the old segment is fsynced.
func (q *Queue) rotateLocked(ctx context.Context) error {
	if err := q.active.Sync(); err != nil {
		return fmt.Errorf("sync segment: %w", err)
	}

	if err := q.active.Close(); err != nil {
		return fmt.Errorf("close segment: %w", err)
	}

	q.dirty = false
	next := q.segments[len(q.segments)-1].index + 1

	logger.InfoKV(ctx, "Segment rotated", "next_index", next)

	return q.openSegmentLocked(next)
}

// openSegmentLocked creates a fresh segment file with the given index.
func (q *Queue) openSegmentLocked(index uint64) error {
	path := filepath.Join(q.dir, segmentName(index))

	f, err := os.OpenFile(filepath.Clean(path),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, config.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}

	q.active = f
	q.segments = append(q.segments, segmentInfo{path: path, index: index})

	return nil
}

// Peek returns up to n oldest unacknowledged entries in sequence order and
// counts the replay attempt on each.
func (q *Queue) Peek(n int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.pending) {
		n = len(q.pending)
	}

	if n <= 0 {
		return nil
	}

	batch := make([]Entry, n)

	for i := 0; i < n; i++ {
		q.pending[i].Attempts++
		batch[i] = q.pending[i]
	}

	return batch
}

// Ack releases every entry with sequence <= upTo, persists the cursor and
// deletes fully acknowledged segments. Acknowledgements are cumulative;
// a stale cursor is a no-op.
func (q *Queue) Ack(ctx context.Context, upTo uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if upTo <= q.floor {
		return
	}

	q.floor = upTo
	q.dropPendingLocked(upTo)
	q.writeCursorLocked(ctx)
	q.reapSegmentsLocked(ctx)
}

// Len returns the number of unacknowledged entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Flush fsyncs the active segment if it has unsynced appends.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.degraded || !q.dirty {
		return
	}

	if err := q.active.Sync(); err != nil {
		logger.ErrorKV(ctx, "Segment sync failed, degrading to in-memory ring", "error", err)
		q.enterDegradedLocked(ctx)

		return
	}

	q.dirty = false
}

// Close flushes and closes the active segment.
func (q *Queue) Close(ctx context.Context) {
	q.Flush(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active != nil {
		_ = q.active.Close()
		q.active = nil
	}
}

// dropPendingLocked removes pending entries with sequence <= upTo.
func (q *Queue) dropPendingLocked(upTo uint64) {
	keep := 0
	for keep < len(q.pending) && q.pending[keep].Seq <= upTo {
		keep++
	}

	q.pending = append(q.pending[:0], q.pending[keep:]...)
}

// pruneLocked enforces the count and age bounds, oldest first. Pruned
// entries advance the cursor so they are never replayed, and the loss is
// surfaced in health.
func (q *Queue) pruneLocked(ctx context.Context, now time.Time) {
	bound := q.cfg.MaxEntries
	if q.degraded {
		bound = ringCapacity
	}

	drop := 0

	if bound > 0 && len(q.pending) > bound {
		drop = len(q.pending) - bound
	}

	if q.cfg.MaxAge > 0 {
		oldest := now.Add(-q.cfg.MaxAge)
		for drop < len(q.pending) && q.pending[drop].EnqueuedAt.Before(oldest) {
			drop++
		}
	}

	if drop == 0 {
		return
	}

	q.floor = q.pending[drop-1].Seq
	q.dropPendingLocked(q.floor)
	q.health.MarkEventsPruned()

	logger.WarnKV(ctx, "Queue bounds exceeded, oldest events pruned",
		"dropped", drop, "pending", len(q.pending))

	if !q.degraded {
		q.writeCursorLocked(ctx)
		q.reapSegmentsLocked(ctx)
	}
}

// reapSegmentsLocked deletes non-active segments whose every entry is at or
// below the cursor.
func (q *Queue) reapSegmentsLocked(ctx context.Context) {
	for len(q.segments) > 1 {
		first := q.segments[0]
		if first.lastSeq == 0 || first.lastSeq > q.floor {
			break
		}

		if err := os.Remove(first.path); err != nil {
			logger.WarnKV(ctx, "Failed to delete acknowledged segment",
				"segment", filepath.Base(first.path), "error", err)

			break
		}

		q.segments = q.segments[1:]
	}
}

// enterDegradedLocked switches the queue to the bounded in-memory ring.
// The newest events are kept; the daemon keeps running.
func (q *Queue) enterDegradedLocked(ctx context.Context) {
	if q.degraded {
		return
	}

	q.degraded = true
	q.health.MarkStorageDegraded()

	if q.active != nil {
		_ = q.active.Close()
		q.active = nil
	}

	if len(q.pending) > ringCapacity {
		dropped := len(q.pending) - ringCapacity
		q.pending = append(q.pending[:0], q.pending[dropped:]...)
		q.health.MarkEventsPruned()
		logger.WarnKV(ctx, "In-memory ring trimmed pending events", "dropped", dropped)
	}
}

// readCursor loads the persisted acknowledgement cursor, zero when absent.
func (q *Queue) readCursor(ctx context.Context) uint64 {
	raw, err := os.ReadFile(filepath.Join(q.dir, cursorFilename))
	if err != nil {
		return 0
	}

	cursor, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		logger.WarnKV(ctx, "Unreadable ack cursor, starting from zero", "error", err)

		return 0
	}

	return cursor
}

// writeCursorLocked persists the cursor atomically via rename.
func (q *Queue) writeCursorLocked(ctx context.Context) {
	path := filepath.Join(q.dir, cursorFilename)
	tmp := path + ".tmp"

	data := []byte(strconv.FormatUint(q.floor, 10))
	if err := os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		logger.WarnKV(ctx, "Failed to write ack cursor", "error", err)

		return
	}

	if err := os.Rename(tmp, path); err != nil {
		logger.WarnKV(ctx, "Failed to publish ack cursor", "error", err)
	}
}
