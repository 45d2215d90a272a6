package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/version"
)

// Client represents a single websocket connection to the telemetry server.
type Client interface {
	// Connect performs the websocket handshake.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Ping writes a ping control frame. The matching pong updates LastAck
	// and Latency.
	Ping() error

	// Messages returns a channel of received frames, each stamped with its
	// local receive time.
	Messages() <-chan TimestampedMessage

	// Errors receives the error that ended the read loop.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool

	// LastAck is when the peer last proved it was alive (any frame or pong).
	LastAck() time.Time

	// Latency is the most recent ping round trip.
	Latency() (time.Duration, bool)
}

// Dialer creates a Client. The manager calls it once per connection
// attempt; tests and the harness substitute their own.
type Dialer func(cfg ClientConfig, logger *slog.Logger) Client

// client implements the Client interface over gorilla/websocket.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastAck    time.Time
	latency    time.Duration
	hasLatency bool
}

// NewClient creates a new websocket client. It matches Dialer.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultClientConfig().WriteTimeout
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the websocket connection. A 401 or 403 upgrade
// response yields *errs.AuthError; every other failure is transient.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	for k, v := range c.cfg.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("User-Agent", version.UserAgent())

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return classifyDialError(ctx, resp, err)
	}

	now := time.Now()
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastAck = now
	c.mu.Unlock()

	// Server pings count as liveness and get answered.
	conn.SetPingHandler(func(data string) error {
		c.ack(time.Now())
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Pongs echo the send time written by Ping.
	conn.SetPongHandler(func(data string) error {
		now := time.Now()
		c.mu.Lock()
		c.lastAck = now
		if sent, err := strconv.ParseInt(data, 10, 64); err == nil {
			c.latency = now.Sub(time.Unix(0, sent))
			c.hasLatency = true
		}
		c.mu.Unlock()
		return nil
	})

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

func classifyDialError(ctx context.Context, resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			reason := resp.Status
			if resp.Body != nil {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				resp.Body.Close()
				if len(body) > 0 {
					reason = string(body)
				}
			}
			return &errs.AuthError{Reason: reason, StatusCode: resp.StatusCode}
		}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errs.Transient("dial", fmt.Errorf("%w: %v", errs.ErrHandshakeTimeout, err))
		}
	}
	if resp != nil {
		return errs.Transient("dial", fmt.Errorf("unexpected status %s: %w", resp.Status, err))
	}
	return errs.Transient("dial", err)
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

// Send writes one text frame.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return errs.ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errs.Transient("write", err)
	}
	return nil
}

// Ping writes a ping carrying the send time in nanoseconds.
func (c *client) Ping() error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return errs.ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	payload := strconv.FormatInt(time.Now().UnixNano(), 10)
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if err := conn.WriteControl(websocket.PingMessage, []byte(payload), deadline); err != nil {
		return errs.Transient("heartbeat", err)
	}
	return nil
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) LastAck() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAck
}

func (c *client) Latency() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latency, c.hasLatency
}

func (c *client) ack(at time.Time) {
	c.mu.Lock()
	c.lastAck = at
	c.mu.Unlock()
}

// readLoop reads frames and forwards them to the messages channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close() are expected.
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- errs.Transient("read", err):
				default:
				}
				return
			}
		}
		c.ack(receivedAt)

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message", "bytes", len(data))
		}
	}
}
