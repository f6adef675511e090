package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshokin/perimeter-sentinel/internal/bus"
	"github.com/oshokin/perimeter-sentinel/internal/config"
	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
	"github.com/oshokin/perimeter-sentinel/internal/logger"
	"github.com/oshokin/perimeter-sentinel/internal/queue"
)

// handshakeTimeout bounds the websocket upgrade.
const handshakeTimeout = 10 * time.Second

// selectionPollInterval is how often the client rechecks for a usable
// interface while none is selected.
const selectionPollInterval = time.Second

// NetworkReporter is the slice of the network monitor the remote link
// uses: the current selection, switchover notifications, and the feedback
// path for heartbeat results. *netmon.Monitor satisfies it.
type NetworkReporter interface {
	Selected() string
	Changes() <-chan string
	ReportRemoteOK()
	ReportRemoteFailure(ctx context.Context)
}

// Client maintains the persistent websocket link to the remote authority:
// connect, authenticate, replay the durable queue oldest first, then keep
// streaming with heartbeats until the link dies, and reconnect with
// jittered exponential backoff. The client never drops an event; delivery
// pressure lands in the durable queue.
type Client struct {
	cfg      *config.Store
	statuses *status.Store
	bus      *bus.Bus
	queue    *queue.Queue
	network  NetworkReporter
	clientID string
	dialer   *websocket.Dialer
}

// New creates the remote link client.
func New(
	cfg *config.Store,
	statuses *status.Store,
	b *bus.Bus,
	q *queue.Queue,
	network NetworkReporter,
) *Client {
	return &Client{
		cfg:      cfg,
		statuses: statuses,
		bus:      b,
		queue:    q,
		network:  network,
		clientID: cfg.Current().System.ClientID,
		dialer:   &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Run drives the connect/replay/stream/backoff cycle until the context is
// canceled. With no remote URL configured the link stays down and the
// queue simply accumulates.
func (c *Client) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "remote")
	remoteCfg := c.cfg.Current().Remote

	if remoteCfg.URL == "" {
		logger.Info(ctx, "No remote authority configured, events accumulate in the queue")
		<-ctx.Done()

		return ctx.Err()
	}

	bo := newBackoff(remoteCfg.BackoffMin, remoteCfg.BackoffMax)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if c.network.Selected() == "" {
			c.statuses.SetRemoteStatus(status.RemoteOffline)
			c.awaitSelection(ctx)

			continue
		}

		c.statuses.SetRemoteStatus(status.RemoteReconnecting)

		conn, err := c.dial(ctx, remoteCfg)
		if err != nil {
			c.statuses.SetRemoteStatus(status.RemoteOffline)

			delay := bo.Next()
			logger.WarnKV(ctx, "Remote connect failed, backing off",
				"error", err, "delay", delay)

			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}

			continue
		}

		connectedAt := time.Now()
		c.statuses.SetRemoteStatus(status.RemoteOnline)
		logger.InfoKV(ctx, "Connected to remote authority",
			"url", remoteCfg.URL, "pending", c.queue.Len())

		err = c.runSession(ctx, conn, remoteCfg)
		_ = conn.Close()
		c.statuses.SetRemoteStatus(status.RemoteOffline)

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if time.Since(connectedAt) >= remoteCfg.StableReset {
			bo.Reset()
		}

		delay := bo.Next()
		logger.WarnKV(ctx, "Remote session ended, reconnecting",
			"error", err, "delay", delay)

		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
	}
}

// dial performs the authenticated websocket handshake.
func (c *Client) dial(ctx context.Context, remoteCfg config.RemoteConfig) (*websocket.Conn, error) {
	token, err := signToken(remoteCfg.AuthSecret, c.clientID, time.Now())
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, remoteCfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	return conn, nil
}

// awaitSelection blocks until the network monitor reports any selected
// interface, the fallback poll fires, or the context ends.
func (c *Client) awaitSelection(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.network.Changes():
	case <-time.After(selectionPollInterval):
	}
}

// sleepCtx sleeps for d, returning false when the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
