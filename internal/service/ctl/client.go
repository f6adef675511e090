package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oshokin/perimeter-sentinel/internal/domain/status"
)

// defaultCallTimeout bounds each request to the local API.
const defaultCallTimeout = 5 * time.Second

// errAddressRequired is returned when no daemon address is provided.
var errAddressRequired = errors.New("daemon address must be provided")

// CommandResult is the daemon's confirmation of an accepted command.
type CommandResult struct {
	// Accepted is true when the command was queued for the state machine.
	Accepted bool `json:"accepted"`
	// EventID identifies the published event for audit correlation.
	EventID string `json:"event_id"`
}

// Client wraps the daemon's local HTTP API.
type Client struct {
	base string
	http *http.Client
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets the per-request timeout.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// NewClient creates a client for the daemon listening on address
// (host:port).
func NewClient(address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	c := &Client{
		base: "http://" + address,
		http: &http.Client{Timeout: defaultCallTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Status fetches the daemon status snapshot.
func (c *Client) Status(ctx context.Context) (*status.Snapshot, error) {
	var snap status.Snapshot
	if err := c.get(ctx, "/api/v1/status", &snap); err != nil {
		return nil, err
	}

	return &snap, nil
}

// Arm requests arming, with an optional exit delay override in seconds.
func (c *Client) Arm(ctx context.Context, exitDelayS int) (*CommandResult, error) {
	return c.command(ctx, "/api/v1/arm", map[string]int{"exit_delay_s": exitDelayS})
}

// Disarm requests disarming, with an optional auto-rearm override in
// seconds.
func (c *Client) Disarm(ctx context.Context, autoRearmS int) (*CommandResult, error) {
	return c.command(ctx, "/api/v1/disarm", map[string]int{"auto_rearm_s": autoRearmS})
}

// Siren requests a manual siren change.
func (c *Client) Siren(ctx context.Context, on bool, durationS int) (*CommandResult, error) {
	return c.command(ctx, "/api/v1/siren", map[string]any{"on": on, "duration_s": durationS})
}

// Floodlight requests a manual floodlight change.
func (c *Client) Floodlight(ctx context.Context, on bool, durationS int) (*CommandResult, error) {
	return c.command(ctx, "/api/v1/floodlight", map[string]any{"on": on, "duration_s": durationS})
}

// WatchEvents streams daemon events, calling handle for each frame, until
// the stream or the context ends.
func (c *Client) WatchEvents(ctx context.Context, handle func(raw []byte)) error {
	url := "ws" + c.base[len("http"):] + "/api/v1/events"

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}

	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			return fmt.Errorf("read event stream: %w", err)
		}

		handle(raw)
	}
}

// command posts a JSON body and decodes the acceptance response.
func (c *Client) command(ctx context.Context, path string, body any) (*CommandResult, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	var result CommandResult
	if err := c.do(req, http.StatusAccepted, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// get fetches a JSON resource.
func (c *Client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	return c.do(req, http.StatusOK, dst)
}

// do executes the request and decodes the response, surfacing the
// daemon's error body on an unexpected status.
func (c *Client) do(req *http.Request, wantStatus int, dst any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call daemon: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != wantStatus {
		var daemonErr struct {
			Error string `json:"error"`
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(body, &daemonErr) == nil && daemonErr.Error != "" {
			return fmt.Errorf("daemon rejected request: %s", daemonErr.Error)
		}

		return fmt.Errorf("unexpected daemon response: %s", resp.Status)
	}

	if dst == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
