package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/tabsense/tabsense/internal/embed"
	"github.com/tabsense/tabsense/internal/errors"
	"github.com/tabsense/tabsense/internal/indexer"
)

// Client connects to the daemon. It implements embed.RPCCaller, so a
// RemoteEngine can forward embedding requests through it, and exposes
// typed helpers for the index and tab methods.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

var _ embed.RPCCaller = (*Client)(nil)

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    timeout,
	}
}

// Connect establishes a connection to the daemon. Failures are
// retryable: the daemon may be restarting, and callers like
// RemoteEngine retry through brief outages.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, errors.New(errors.ErrCodeDaemonUnavailable,
			fmt.Sprintf("failed to connect to daemon at %s", c.socketPath), err).
			WithSuggestion("start the daemon with 'tabsense daemon'")
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Call sends one request and decodes the response into result. It
// implements embed.RPCCaller. Wire errors come back as taxonomy
// errors, so not-ready and retryable classification survives the
// socket crossing.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	return c.call(ctx, method, params, result, c.timeout)
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var pong PingResult
	return c.call(ctx, MethodPing, nil, &pong, c.timeout)
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	var ack AckResult
	return c.call(ctx, MethodShutdown, nil, &ack, c.timeout)
}

// Search sends a search request to the daemon.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]indexer.Result, error) {
	params := SearchParams{Query: query, TopK: topK}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	var results []indexer.Result
	if err := c.call(ctx, MethodSearch, params, &results, c.timeout); err != nil {
		return nil, err
	}
	return results, nil
}

// IndexTab asks the daemon to (re)index one tab from its registry.
func (c *Client) IndexTab(ctx context.Context, ownerID string) error {
	params := DocumentParams{OwnerID: ownerID}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	var ack AckResult
	return c.call(ctx, MethodIndexDocument, params, &ack, c.timeout)
}

// RemoveTab asks the daemon to drop one tab from the index.
func (c *Client) RemoveTab(ctx context.Context, ownerID string) error {
	params := DocumentParams{OwnerID: ownerID}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	var ack AckResult
	return c.call(ctx, MethodRemoveDocument, params, &ack, c.timeout)
}

// Rebuild asks the daemon to re-embed and re-index every registered
// tab. Uses a long deadline; rebuilds run for minutes on big sessions.
func (c *Client) Rebuild(ctx context.Context) error {
	var ack AckResult
	return c.call(ctx, MethodRebuild, nil, &ack, rebuildTimeout)
}

// Stats retrieves index statistics.
func (c *Client) Stats(ctx context.Context) (indexer.Stats, error) {
	var stats indexer.Stats
	if err := c.call(ctx, MethodStats, nil, &stats, c.timeout); err != nil {
		return indexer.Stats{}, err
	}
	return stats, nil
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, nil, &status, c.timeout); err != nil {
		return nil, err
	}
	return &status, nil
}

// PublishEvent forwards one tab lifecycle event to the daemon.
func (c *Client) PublishEvent(ctx context.Context, params TabEventParams) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	var ack AckResult
	return c.call(ctx, MethodTabEvent, params, &ack, c.timeout)
}

// call runs one request/response round trip on a fresh connection.
func (c *Client) call(ctx context.Context, method string, params, result any, timeout time.Duration) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Set deadline from context or timeout, whichever is sooner
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}

	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return resp.Error.Err()
	}

	if result != nil && resp.Result != nil {
		resultData, err := json.Marshal(resp.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		if err := json.Unmarshal(resultData, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}

	return nil
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return errors.New(errors.ErrCodeDaemonUnavailable, "failed to send request", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, errors.New(errors.ErrCodeDaemonUnavailable, "failed to receive response", err)
	}
	return &resp, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
