package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/gridpulse/internal/errs"
)

// ErrHeartbeatTimeout is the cause recorded when the peer stops
// acknowledging pings while the transport stays open.
var ErrHeartbeatTimeout = errors.New("no heartbeat acknowledgment")

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange is delivered to observers on every transition.
type StateChange struct {
	From State
	To   State
	Err  error // cause of the transition, nil for requested ones
	At   time.Time
}

// Status is the connection state plus health flags.
type Status struct {
	State     State
	Degraded  bool
	LastError error

	// Attempts is the number of consecutive failed connection attempts.
	Attempts      int
	NextAttemptAt time.Time
}

// TimestampedMessage wraps raw frame data with its receive time.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL              string
	Header           http.Header // extra upgrade headers (Authorization, ...)
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int // inbound message channel buffer
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// JitterFraction adds a random delay in [0, JitterFraction×delay] to
	// every backoff step.
	JitterFraction float64

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	OutboundQueueCapacity int
	EventBufferSize       int // capacity of the Events channel
	ClientBufferSize      int

	// MaxReconnectAttempts stops reconnecting after that many consecutive
	// failures. Zero retries forever.
	MaxReconnectAttempts int

	// DegradedAfterAttempts marks the connection degraded once that many
	// consecutive attempts have failed.
	DegradedAfterAttempts int
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HandshakeTimeout:      10 * time.Second,
		WriteTimeout:          5 * time.Second,
		BaseBackoff:           1 * time.Second,
		MaxBackoff:            30 * time.Second,
		JitterFraction:        0.2,
		HeartbeatInterval:     25 * time.Second,
		HeartbeatTimeout:      60 * time.Second,
		OutboundQueueCapacity: 50,
		EventBufferSize:       1024,
		ClientBufferSize:      256,
		DegradedAfterAttempts: 3,
	}
}

// Validate checks the configuration.
func (c ManagerConfig) Validate() error {
	switch {
	case c.URL == "":
		return errs.Config("server.url", "is required")
	case c.HandshakeTimeout <= 0:
		return errs.Config("connection.handshake_timeout", "must be positive, got %v", c.HandshakeTimeout)
	case c.WriteTimeout <= 0:
		return errs.Config("connection.write_timeout", "must be positive, got %v", c.WriteTimeout)
	case c.BaseBackoff <= 0:
		return errs.Config("connection.base_backoff", "must be positive, got %v", c.BaseBackoff)
	case c.MaxBackoff < c.BaseBackoff:
		return errs.Config("connection.max_backoff", "must be >= base_backoff (%v), got %v", c.BaseBackoff, c.MaxBackoff)
	case c.JitterFraction < 0 || c.JitterFraction > 1:
		return errs.Config("connection.jitter", "must be within [0, 1], got %v", c.JitterFraction)
	case c.HeartbeatInterval <= 0:
		return errs.Config("connection.heartbeat_interval", "must be positive, got %v", c.HeartbeatInterval)
	case c.HeartbeatTimeout < c.HeartbeatInterval:
		return errs.Config("connection.heartbeat_timeout", "must be >= heartbeat_interval (%v), got %v", c.HeartbeatInterval, c.HeartbeatTimeout)
	case c.OutboundQueueCapacity < 1:
		return errs.Config("connection.outbound_queue_capacity", "must be >= 1, got %d", c.OutboundQueueCapacity)
	case c.EventBufferSize < 1:
		return errs.Config("connection.event_buffer", "must be >= 1, got %d", c.EventBufferSize)
	case c.ClientBufferSize < 1:
		return errs.Config("connection.client_buffer", "must be >= 1, got %d", c.ClientBufferSize)
	case c.MaxReconnectAttempts < 0:
		return errs.Config("connection.max_reconnect_attempts", "must be >= 0, got %d", c.MaxReconnectAttempts)
	case c.DegradedAfterAttempts < 1:
		return errs.Config("connection.degraded_after_attempts", "must be >= 1, got %d", c.DegradedAfterAttempts)
	}
	return nil
}

func (c ManagerConfig) clientConfig() ClientConfig {
	return ClientConfig{
		URL:              c.URL,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		BufferSize:       c.ClientBufferSize,
	}
}
