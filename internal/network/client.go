package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"lib.kevinlin.info/aperture/lib"

	"tagrelay/internal/metrics"
)

// Client defines the interface for a relay transport client.
type Client interface {
	// Conn opens a new connection for exactly one exchange. The caller owns the connection and
	// must close it.
	Conn(ctx context.Context) (net.Conn, error)

	// Stats returns historical client stats.
	Stats() Stats
}

// Stats formalizes stats tracked per-client.
type Stats struct {
	// SuccessfulConnections is the number of connections that the client has successfully
	// provided.
	SuccessfulConnections int
	// FailedConnections is the number of times that the client has failed to provide a
	// connection.
	FailedConnections int
}

// TCPClient dials a relay server over plain TCP. Connections are never pooled or reused: every
// call to Conn establishes a new connection.
type TCPClient struct {
	addr       string
	cxHook     metrics.ConnectionLifecycleHook
	opts       TCPClientOpts
	dialer     net.Dialer
	stats      Stats
	statsMutex sync.RWMutex
}

// TCPClientOpts formalizes TCP client configuration options.
type TCPClientOpts struct {
	// ConnectTimeout is the timeout associated with establishing a connection with the relay
	// server.
	ConnectTimeout time.Duration
	// ReadTimeout is the timeout associated with each read from a relay connection.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout associated with each write to a relay connection.
	WriteTimeout time.Duration
}

// TrackedConn is a TCPConn that invokes a callback when it is closed, used to report the end of a
// connection's lifecycle exactly once.
type TrackedConn struct {
	onClose func()
	once    sync.Once

	*TCPConn
}

// NewTCPClient creates a TCPClient for the specified relay server address.
func NewTCPClient(addr string, cxHook metrics.ConnectionLifecycleHook, opts TCPClientOpts) *TCPClient {
	return &TCPClient{
		addr:   addr,
		cxHook: cxHook,
		opts:   opts,
		dialer: net.Dialer{Timeout: opts.ConnectTimeout},
	}
}

// Conn dials a new connection to the relay server.
func (c *TCPClient) Conn(ctx context.Context) (conn net.Conn, err error) {
	defer func() {
		c.statsMutex.Lock()
		defer c.statsMutex.Unlock()

		if err != nil {
			c.stats.FailedConnections++
		} else {
			c.stats.SuccessfulConnections++
		}
	}()

	dialTimer := lib.NewStopwatch()

	raw, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		c.cxHook.EmitConnectionError()
		return nil, fmt.Errorf("client: error establishing connection: addr=%s: %w", c.addr, err)
	}

	c.cxHook.EmitConnectionOpen(dialTimer.Elapsed(), raw.RemoteAddr())

	return NewTrackedConn(
		NewTCPConn(raw, c.opts.ReadTimeout, c.opts.WriteTimeout),
		func() { c.cxHook.EmitConnectionClose(raw.RemoteAddr()) },
	), nil
}

// Stats returns current client stats.
func (c *TCPClient) Stats() Stats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()

	return c.stats
}

// String returns a string representation of the client.
func (c *TCPClient) String() string {
	return fmt.Sprintf("TCPClient{addr: %s}", c.addr)
}

// NewTrackedConn wraps an existing TCPConn with the specified close callback.
func NewTrackedConn(conn *TCPConn, onClose func()) *TrackedConn {
	return &TrackedConn{onClose: onClose, TCPConn: conn}
}

// Close closes the underlying connection and invokes the close callback on the first call only.
func (c *TrackedConn) Close() error {
	err := c.TCPConn.Close()
	c.once.Do(c.onClose)

	return err
}

// String implements the Stringer interface for human-consumable representation.
func (c *TrackedConn) String() string {
	return fmt.Sprintf("TrackedConn{%s->%s}", c.LocalAddr(), c.RemoteAddr())
}
