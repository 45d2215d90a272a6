// Package config loads the gridpulse YAML configuration and converts it
// into the per-component configurations.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration file.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Store      StoreConfig      `yaml:"store"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Resources  ResourcesConfig  `yaml:"resources"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig locates the event server and the bearer token.
type ServerConfig struct {
	URL       string `yaml:"url"`
	Token     string `yaml:"token"`      // usually ${GRIDPULSE_TOKEN}
	TokenFile string `yaml:"token_file"` // read when Token is empty
}

// ConnectionConfig tunes the Connection Manager.
type ConnectionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`

	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Jitter      *float64      `yaml:"jitter"` // nil uses the default; 0 disables jitter

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`

	OutboundQueueCapacity int `yaml:"outbound_queue_capacity"`
	EventBuffer           int `yaml:"event_buffer"`
	ClientBuffer          int `yaml:"client_buffer"`

	MaxReconnectAttempts  int `yaml:"max_reconnect_attempts"`
	DegradedAfterAttempts int `yaml:"degraded_after_attempts"`
}

// StoreConfig sizes the per-kind ring buffers.
type StoreConfig struct {
	RingBufferCapacity int            `yaml:"ring_buffer_capacity"`
	Retention          map[string]int `yaml:"retention"`
}

// DispatchConfig holds default timings and per-kind overrides.
type DispatchConfig struct {
	ThrottleWindow  time.Duration         `yaml:"throttle_window"`
	DebounceQuiet   time.Duration         `yaml:"debounce_quiet"`
	AggregateWindow time.Duration         `yaml:"aggregate_window"`
	StaleThreshold  time.Duration         `yaml:"stale_threshold"`
	Kinds           map[string]KindConfig `yaml:"kinds"`
}

// KindConfig overrides dispatch settings for one event kind. Zero timings
// inherit the dispatch defaults. Mode names the binding the gridpulse
// binary creates for the kind.
type KindConfig struct {
	Mode            string        `yaml:"mode"`
	ThrottleWindow  time.Duration `yaml:"throttle_window"`
	DebounceQuiet   time.Duration `yaml:"debounce_quiet"`
	AggregateWindow time.Duration `yaml:"aggregate_window"`
	StaleThreshold  time.Duration `yaml:"stale_threshold"`
}

// ResourcesConfig sets the resource manager thresholds.
type ResourcesConfig struct {
	MaxListeners         int           `yaml:"max_listeners"`
	MaxMemoryBytes       int64         `yaml:"max_memory_bytes"`
	SaturationWindow     time.Duration `yaml:"saturation_window"`
	PerListenerOverhead  int64         `yaml:"per_listener_overhead"`
	AveragePayloadBytes  int64         `yaml:"average_payload_bytes"`
	MaxProcessRSSBytes   uint64        `yaml:"max_process_rss_bytes"`
	EnforceListenerLimit bool          `yaml:"enforce_listener_limit"`
	Language             string        `yaml:"language"` // BCP 47 tag for warning text
	HealthInterval       time.Duration `yaml:"health_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Load reads a YAML file, expanding ${VAR} references from the
// environment. Defaults are not applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data, expanding ${VAR} references.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads the file and fills unset fields with defaults.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads, applies defaults and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no
// server settings.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
