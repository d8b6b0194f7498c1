package transport

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leonardcser/jsonstate/internal/state"
)

const dialTimeout = 500 * time.Millisecond

// Client implements state.Store against a state daemon listening on a Unix
// socket. Like the Redis backend it holds a single connection, dialled on
// first use and dropped after any transport failure so the next call
// reconnects.
type Client struct {
	socketPath string

	mu   sync.Mutex
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

var _ state.Store = (*Client)(nil)

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Ping dials the daemon if needed. It is used to probe for a running daemon.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return state.Unavailable("connect state daemon", err)
	}
	c.conn = conn
	c.enc = json.NewEncoder(conn)
	c.enc.SetEscapeHTML(false)
	c.dec = json.NewDecoder(conn)
	return nil
}

func (c *Client) drop() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn, c.enc, c.dec = nil, nil, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return Response{}, err
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.drop()
		return Response{}, state.Unavailable("set deadline", err)
	}

	req.ID = uuid.NewString()
	if err := c.enc.Encode(&req); err != nil {
		c.drop()
		return Response{}, state.Unavailable("send request", err)
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		c.drop()
		return Response{}, state.Unavailable("read response", err)
	}
	if resp.ID != req.ID {
		c.drop()
		return Response{}, state.Internal("response %q answers a different request than %q", resp.ID, req.ID)
	}
	return resp, resp.err()
}

func (c *Client) Get(ctx context.Context, t state.TenantCtx, prefix, key string, p state.Path) (json.RawMessage, bool, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpGet, Tenant: t, Prefix: prefix, Key: key, Path: p.String()})
	if err != nil || !resp.Found {
		return nil, false, err
	}
	return resp.Value, true, nil
}

func (c *Client) Set(ctx context.Context, t state.TenantCtx, prefix, key string, p state.Path, value json.RawMessage, ttl state.TTL) error {
	// The encoder refuses invalid raw JSON, so reject it here with the same
	// error the daemon would return.
	if len(value) > 0 && !json.Valid(value) {
		return state.InvalidInput("decode document: invalid JSON")
	}
	secs := int64(ttl)
	_, err := c.roundTrip(ctx, Request{
		Op:     OpSet,
		Tenant: t,
		Prefix: prefix,
		Key:    key,
		Path:   p.String(),
		Value:  value,
		TTL:    &secs,
	})
	return err
}

func (c *Client) Delete(ctx context.Context, t state.TenantCtx, prefix, key string) (bool, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpDelete, Tenant: t, Prefix: prefix, Key: key})
	if err != nil {
		return false, err
	}
	return resp.Deleted, nil
}

func (c *Client) DeleteByPrefix(ctx context.Context, t state.TenantCtx, prefix string) (uint64, error) {
	resp, err := c.roundTrip(ctx, Request{Op: OpDeletePrefix, Tenant: t, Prefix: prefix})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	return nil
}
