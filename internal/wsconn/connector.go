// Package wsconn holds the lazily dialed, single-flight websocket connection
// shared by the vendor speech clients.
package wsconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultConnectTimeout = 10 * time.Second
	writeWait             = 10 * time.Second
	dialKey               = "dial"
)

var (
	// ErrConnectTimeout is returned when the dial does not complete within the connect timeout
	ErrConnectTimeout = errors.New("websocket connect timed out")
	// ErrNotConnected is returned by write helpers when no socket is open
	ErrNotConnected = errors.New("websocket is not connected")
)

// Config describes how a Connector reaches its endpoint
type Config struct {
	// URL builds the dial URL. Called once per dial attempt.
	URL            func() string
	Header         http.Header
	TLSConfig      *tls.Config
	ConnectTimeout time.Duration
	// OnOpen runs after a successful dial, before any waiter is released.
	OnOpen func(conn *websocket.Conn)
}

// Connector owns at most one websocket connection. Concurrent Get calls made
// while no socket is open share a single dial attempt and its result.
type Connector struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger

	group     singleflight.Group
	mu        sync.Mutex
	conn      *websocket.Conn
	inflight  chan struct{}
	writeMu   sync.Mutex
	requested atomic.Bool
	dials     atomic.Int64
}

// New creates a Connector. Nothing is dialed until the first Get.
func New(cfg Config, logger *zap.Logger) *Connector {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Connector{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
			TLSClientConfig:  cfg.TLSConfig,
		},
		logger: logger,
	}
}

// Get returns the open connection, dialing it if needed.
// ctx only bounds how long this caller waits; the shared dial is bounded by
// the connect timeout so one impatient caller cannot fail the others.
func (c *Connector) Get(ctx context.Context) (*websocket.Conn, error) {
	// The in-flight marker is published together with requested, so an Await
	// that observes the request always sees the dial too.
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.markInflight()
	}
	c.requested.Store(true)
	c.mu.Unlock()

	if conn != nil {
		return conn, nil
	}

	result := c.group.DoChan(dialKey, func() (interface{}, error) {
		defer c.settle()

		c.mu.Lock()
		conn := c.conn
		if conn == nil {
			c.markInflight()
		}
		c.mu.Unlock()

		// A dial that settled between the check above and DoChan already stored the socket.
		if conn != nil {
			return conn, nil
		}
		return c.dial()
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*websocket.Conn), nil
	}
}

// markInflight publishes the marker Await waits on. c.mu must be held.
func (c *Connector) markInflight() {
	if c.inflight == nil {
		c.inflight = make(chan struct{})
	}
}

// settle releases everyone waiting in Await
func (c *Connector) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight != nil {
		close(c.inflight)
		c.inflight = nil
	}
}

func (c *Connector) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	c.dials.Add(1)
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL(), c.cfg.Header)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %v", ErrConnectTimeout, c.cfg.ConnectTimeout, err)
		}
		fields := []zap.Field{zap.Error(err)}
		if resp != nil {
			fields = append(fields, zap.Int("statusCode", resp.StatusCode))
		}
		c.logger.Error("Failed to open websocket connection", fields...)
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("Websocket connection opened", zap.String("remoteAddr", conn.RemoteAddr().String()))

	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen(conn)
	}
	return conn, nil
}

// Await returns the open connection, waiting for a dial already in flight.
// Unlike Get it never starts a dial; it returns nil when nothing is open.
func (c *Connector) Await(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	conn, settled := c.conn, c.inflight
	c.mu.Unlock()

	if conn != nil || settled == nil {
		return conn, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-settled:
		return c.Current(), nil
	}
}

// Current returns the open connection or nil
func (c *Connector) Current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Requested reports whether Get was ever called
func (c *Connector) Requested() bool {
	return c.requested.Load()
}

// DialCount returns how many dial attempts were made
func (c *Connector) DialCount() int64 {
	return c.dials.Load()
}

// Clear forgets conn if it is still the current connection.
// It reports whether the state was cleared.
func (c *Connector) Clear(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn != conn {
		return false
	}
	c.conn = nil
	return true
}

// WriteMessage writes one frame on conn. Writes are serialized.
func (c *Connector) WriteMessage(conn *websocket.Conn, messageType int, data []byte) error {
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}

// WriteJSON writes v as a JSON text frame on conn
func (c *Connector) WriteJSON(conn *websocket.Conn, v interface{}) error {
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// CloseConn sends a normal-closure close frame, closes the socket and
// clears it from the connector. A nil conn is a no-op.
func (c *Connector) CloseConn(conn *websocket.Conn) error {
	if conn == nil {
		return nil
	}
	c.Clear(conn)

	c.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug("Failed to send close frame", zap.Error(err))
	}

	return conn.Close()
}
