package config

import (
	"time"

	"github.com/rickgao/gridpulse/internal/dispatch"
	"github.com/rickgao/gridpulse/internal/resource"
	"github.com/rickgao/gridpulse/internal/store"
)

// Default values for optional configuration fields.
const (
	DefaultHandshakeTimeout      = 10 * time.Second
	DefaultWriteTimeout          = 5 * time.Second
	DefaultBaseBackoff           = 1 * time.Second
	DefaultMaxBackoff            = 30 * time.Second
	DefaultJitter                = 0.2
	DefaultHeartbeatInterval     = 25 * time.Second
	DefaultHeartbeatTimeout      = 60 * time.Second
	DefaultOutboundQueueCapacity = 50
	DefaultEventBuffer           = 1024
	DefaultClientBuffer          = 256
	DefaultDegradedAfter         = 3
	DefaultRingBufferCapacity    = store.DefaultCapacity
	DefaultMetricsPort           = 9090
	DefaultMetricsPath           = "/metrics"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
	DefaultLanguage              = "en"
	DefaultHealthInterval        = time.Minute
)

func (c *Config) applyDefaults() {
	// Connection defaults
	conn := &c.Connection
	if conn.HandshakeTimeout == 0 {
		conn.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = DefaultWriteTimeout
	}
	if conn.BaseBackoff == 0 {
		conn.BaseBackoff = DefaultBaseBackoff
	}
	if conn.MaxBackoff == 0 {
		conn.MaxBackoff = DefaultMaxBackoff
	}
	if conn.Jitter == nil {
		j := DefaultJitter
		conn.Jitter = &j
	}
	if conn.HeartbeatInterval == 0 {
		conn.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if conn.HeartbeatTimeout == 0 {
		conn.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if conn.OutboundQueueCapacity == 0 {
		conn.OutboundQueueCapacity = DefaultOutboundQueueCapacity
	}
	if conn.EventBuffer == 0 {
		conn.EventBuffer = DefaultEventBuffer
	}
	if conn.ClientBuffer == 0 {
		conn.ClientBuffer = DefaultClientBuffer
	}
	if conn.DegradedAfterAttempts == 0 {
		conn.DegradedAfterAttempts = DefaultDegradedAfter
	}

	// Store defaults
	if c.Store.RingBufferCapacity == 0 {
		c.Store.RingBufferCapacity = DefaultRingBufferCapacity
	}

	// Dispatch defaults
	if c.Dispatch.ThrottleWindow == 0 {
		c.Dispatch.ThrottleWindow = dispatch.DefaultThrottleInterval
	}
	if c.Dispatch.DebounceQuiet == 0 {
		c.Dispatch.DebounceQuiet = dispatch.DefaultDebounceQuiet
	}
	if c.Dispatch.AggregateWindow == 0 {
		c.Dispatch.AggregateWindow = dispatch.DefaultAggregateWindow
	}
	if c.Dispatch.StaleThreshold == 0 {
		c.Dispatch.StaleThreshold = dispatch.DefaultStaleThreshold
	}

	// Resource defaults
	res := &c.Resources
	if res.MaxListeners == 0 {
		res.MaxListeners = resource.DefaultMaxListeners
	}
	if res.MaxMemoryBytes == 0 {
		res.MaxMemoryBytes = resource.DefaultMaxMemoryBytes
	}
	if res.SaturationWindow == 0 {
		res.SaturationWindow = resource.DefaultSaturationWindow
	}
	if res.PerListenerOverhead == 0 {
		res.PerListenerOverhead = resource.DefaultPerListenerOverhead
	}
	if res.HealthInterval == 0 {
		res.HealthInterval = DefaultHealthInterval
	}
	if res.Language == "" {
		res.Language = DefaultLanguage
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
