package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chronomesh/chronomesh/internal/adapters/wire"
)

// Default WebSocket client configuration constants.
const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultEndpointPath     = "/sync"
)

// WS is the engine-side WebSocket transport. It keeps one connection per
// device address and runs a single exchange at a time on each; the sync
// protocol never pipelines requests to one device.
type WS struct {
	dialer *websocket.Dialer
	path   string

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// WSOption applies a configuration option to the WS transport.
type WSOption func(*WS)

// WithEndpointPath sets the URL path devices serve the protocol on.
func WithEndpointPath(path string) WSOption {
	return func(t *WS) {
		if path != "" {
			t.path = path
		}
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) WSOption {
	return func(t *WS) {
		if d != nil {
			t.dialer = d
		}
	}
}

// NewWS creates a WebSocket transport with configuration options.
func NewWS(opts ...WSOption) *WS {
	t := &WS{
		dialer: &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
		path:   defaultEndpointPath,
		conns:  make(map[string]*wsConn),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Exchange writes one binary frame and reads one reply frame with the
// deadline applied to both directions. Any error tears down the cached
// connection so the next exchange redials.
func (t *WS) Exchange(ctx context.Context, addr string, msg wire.Message, timeout time.Duration) (wire.Message, error) {
	frame, err := wire.Encode(msg)
	if err != nil {
		return nil, err
	}

	c, err := t.connFor(ctx, addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		t.drop(addr, c)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.drop(addr, c)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		t.drop(addr, c)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	_, reply, err := c.conn.ReadMessage()
	if err != nil {
		t.drop(addr, c)
		return nil, ErrTimeout
	}

	return wire.Decode(reply)
}

// connFor returns the cached connection for addr, dialing if needed.
func (t *WS) connFor(ctx context.Context, addr string) (*wsConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if c, ok := t.conns[addr]; ok {
		return c, nil
	}

	conn, _, err := t.dialer.DialContext(ctx, "ws://"+addr+t.path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetwork, addr, err)
	}
	c := &wsConn{conn: conn}
	t.conns[addr] = c
	return c, nil
}

// drop removes a broken connection from the cache and closes it.
func (t *WS) drop(addr string, c *wsConn) {
	t.mu.Lock()
	if cur, ok := t.conns[addr]; ok && cur == c {
		delete(t.conns, addr)
	}
	t.mu.Unlock()
	_ = c.conn.Close()
}

// Close closes every cached connection.
func (t *WS) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for addr, c := range t.conns {
		_ = c.conn.Close()
		delete(t.conns, addr)
	}
	return nil
}
