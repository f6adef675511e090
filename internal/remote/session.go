package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
)

// replayPollInterval is how often the replay loop rechecks an empty queue.
const replayPollInterval = 200 * time.Millisecond

// writeTimeout bounds every frame write.
const writeTimeout = 10 * time.Second

// defaultThrottle is the replay pause applied when a throttle frame
// carries no retry_after_s.
const defaultThrottle = 5 * time.Second

// maxMissedPongs is how many consecutive unanswered pings end the session.
const maxMissedPongs = 2

var (
	errHeartbeatLost    = errors.New("heartbeat lost")
	errInterfaceChanged = errors.New("network selection changed")
)

// session is the per-connection state: one reader, one replay writer, one
// heartbeat writer, all torn down together through the errgroup context.
type session struct {
	client *Client
	conn   *websocket.Conn
	cfg    config.RemoteConfig

	writeMu sync.Mutex

	// acked is the highest cumulative acknowledgement seen; ackCh wakes
	// the replay loop, coalesced to one pending signal.
	acked atomic.Uint64
	ackCh chan struct{}

	pongCh chan struct{}

	// throttledUntil is a unix-nano deadline before which replay pauses.
	throttledUntil atomic.Int64
}

// runSession services one established connection until any loop fails or
// the context ends.
func (c *Client) runSession(ctx context.Context, conn *websocket.Conn, remoteCfg config.RemoteConfig) error {
	s := &session{
		client: c,
		conn:   conn,
		cfg:    remoteCfg,
		ackCh:  make(chan struct{}, 1),
		pongCh: make(chan struct{}, 1),
	}

	g, ctx := errgroup.WithContext(ctx)

	// The reader blocks in ReadJSON; closing the connection is the only
	// way to unblock it when another loop fails.
	g.Go(func() error {
		<-ctx.Done()
		_ = conn.Close()

		return ctx.Err()
	})

	g.Go(func() error { return s.readLoop(ctx) })
	g.Go(func() error { return s.replayLoop(ctx) })
	g.Go(func() error { return s.heartbeatLoop(ctx) })

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case name := <-c.network.Changes():
			// Reconnecting rebinds the socket onto the new route.
			return fmt.Errorf("%w: now %q", errInterfaceChanged, name)
		}
	})

	return g.Wait()
}

// write sends one frame under the write lock with a bounded deadline.
func (s *session) write(msg message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Type, err)
	}

	return nil
}

// readLoop dispatches inbound frames until the connection dies.
func (s *session) readLoop(ctx context.Context) error {
	for {
		var msg message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		switch msg.Type {
		case typeAck:
			s.handleAck(ctx, msg.AckSeq)
		case typePong:
			select {
			case s.pongCh <- struct{}{}:
			default:
			}
		case typeCmd:
			s.handleCommand(ctx, msg)
		case typeThrottle:
			s.handleThrottle(ctx, msg)
		default:
			logger.DebugKV(ctx, "Unknown frame from remote, ignored", "type", msg.Type)
		}
	}
}

// handleAck releases acknowledged queue entries and wakes the replay loop.
func (s *session) handleAck(ctx context.Context, ackSeq uint64) {
	s.client.queue.Ack(ctx, ackSeq)

	for {
		current := s.acked.Load()
		if ackSeq <= current || s.acked.CompareAndSwap(current, ackSeq) {
			break
		}
	}

	select {
	case s.ackCh <- struct{}{}:
	default:
	}
}

// handleThrottle pauses replay without touching the reconnect backoff;
// the authority is alive, just busy.
func (s *session) handleThrottle(ctx context.Context, msg message) {
	pause := defaultThrottle
	if msg.RetryAfterS > 0 {
		pause = time.Duration(msg.RetryAfterS) * time.Second
	}

	s.throttledUntil.Store(time.Now().Add(pause).UnixNano())
	logger.InfoKV(ctx, "Remote throttled replay", "pause", pause)
}

// handleCommand turns a remote command into a remote-sourced bus event and
// acknowledges it. The source policy is applied here, at the boundary: a
// remote command becomes an event, never a direct actuator call.
func (s *session) handleCommand(ctx context.Context, msg message) {
	var params commandParams
	if msg.Params != nil {
		params = *msg.Params
	}

	var (
		category event.Category
		value    any
	)

	switch msg.Action {
	case actionArm:
		category = event.CategoryUserArm
		value = event.ArmPayload{ExitDelayS: params.ExitDelayS}
	case actionDisarm:
		category = event.CategoryUserDisarm
		value = event.DisarmPayload{AutoRearmS: params.AutoRearmS}
	case actionSiren:
		category = event.CategorySirenControl
		value = event.ActuatorPayload{On: params.On, DurationS: params.DurationS}
	case actionFloodlight:
		category = event.CategoryFloodlightControl
		value = event.ActuatorPayload{On: params.On, DurationS: params.DurationS}
	default:
		logger.WarnKV(ctx, "Unknown remote command rejected",
			"action", msg.Action, "cmd_id", msg.CmdID)

		if err := s.write(cmdAck(msg.CmdID, false, "unknown action: "+msg.Action)); err != nil {
			logger.WarnKV(ctx, "Failed to reject remote command", "error", err)
		}

		return
	}

	logger.InfoKV(ctx, "Remote command accepted", "action", msg.Action, "cmd_id", msg.CmdID)
	s.client.bus.Publish(ctx, event.New(event.SourceRemote, category, value, s.client.clientID))

	if err := s.write(cmdAck(msg.CmdID, true, "")); err != nil {
		logger.WarnKV(ctx, "Failed to acknowledge remote command", "error", err)
	}
}

// replayLoop drains the durable queue oldest first in bounded batches,
// waiting for the cumulative acknowledgement of each batch before sending
// the next. Live events reach the queue through its bus subscription, so
// replay and live send are one ordered path.
func (s *session) replayLoop(ctx context.Context) error {
	for {
		if err := s.awaitThrottle(ctx); err != nil {
			return err
		}

		batch := s.client.queue.Peek(s.cfg.ReplayBatchSize)
		if len(batch) == 0 {
			if !sleepCtx(ctx, replayPollInterval) {
				return ctx.Err()
			}

			continue
		}

		for i := range batch {
			if err := s.write(message{
				Type:  typeEvent,
				Seq:   batch[i].Seq,
				Event: &batch[i].Event,
			}); err != nil {
				return err
			}
		}

		if err := s.awaitAck(ctx, batch[len(batch)-1].Seq); err != nil {
			return err
		}
	}
}

// awaitThrottle blocks while a throttle pause is active.
func (s *session) awaitThrottle(ctx context.Context) error {
	for {
		until := time.Unix(0, s.throttledUntil.Load())

		remaining := time.Until(until)
		if remaining <= 0 {
			return nil
		}

		if !sleepCtx(ctx, remaining) {
			return ctx.Err()
		}
	}
}

// awaitAck blocks until the cumulative acknowledgement covers seq. There
// is no ack deadline here; a dead link is detected by the heartbeat loop.
func (s *session) awaitAck(ctx context.Context, seq uint64) error {
	for s.acked.Load() < seq {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ackCh:
		}
	}

	return nil
}

// heartbeatLoop sends application-level pings and ends the session after
// consecutive unanswered ones. JSON pings instead of websocket control
// frames: the heartbeat must prove the authority's event loop is alive,
// not just its TCP stack.
func (s *session) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	missed := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := s.write(message{Type: typePing, ClientID: s.client.clientID}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.pongCh:
			missed = 0
			s.client.network.ReportRemoteOK()
		case <-time.After(s.cfg.HeartbeatInterval):
			missed++
			s.client.network.ReportRemoteFailure(ctx)
			logger.WarnKV(ctx, "Heartbeat unanswered", "missed", missed)

			if missed >= maxMissedPongs {
				return errHeartbeatLost
			}
		}
	}
}
