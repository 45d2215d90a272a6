package config

import (
	"fmt"

	"golang.org/x/text/language"

	"github.com/rickgao/gridpulse/internal/auth"
	"github.com/rickgao/gridpulse/internal/connection"
	"github.com/rickgao/gridpulse/internal/dispatch"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/realtime"
	"github.com/rickgao/gridpulse/internal/resource"
	"github.com/rickgao/gridpulse/internal/store"
)

// ConnectionConfig converts the connection section.
func (c *Config) ConnectionConfig() connection.ManagerConfig {
	conn := c.Connection
	jitter := DefaultJitter
	if conn.Jitter != nil {
		jitter = *conn.Jitter
	}
	return connection.ManagerConfig{
		URL:                   c.Server.URL,
		HandshakeTimeout:      conn.HandshakeTimeout,
		WriteTimeout:          conn.WriteTimeout,
		BaseBackoff:           conn.BaseBackoff,
		MaxBackoff:            conn.MaxBackoff,
		JitterFraction:        jitter,
		HeartbeatInterval:     conn.HeartbeatInterval,
		HeartbeatTimeout:      conn.HeartbeatTimeout,
		OutboundQueueCapacity: conn.OutboundQueueCapacity,
		EventBufferSize:       conn.EventBuffer,
		ClientBufferSize:      conn.ClientBuffer,
		MaxReconnectAttempts:  conn.MaxReconnectAttempts,
		DegradedAfterAttempts: conn.DegradedAfterAttempts,
	}
}

// StoreConfig converts the store section.
func (c *Config) StoreConfig() store.Config {
	cfg := store.Config{Capacity: c.Store.RingBufferCapacity}
	if len(c.Store.Retention) > 0 {
		cfg.Retention = make(map[string]int, len(c.Store.Retention))
		for kind, n := range c.Store.Retention {
			cfg.Retention[kind] = n
		}
	}
	return cfg
}

// DispatchConfig converts the dispatch section. Kind modes are not part
// of it; see KindModes.
func (c *Config) DispatchConfig() dispatch.Config {
	d := c.Dispatch
	cfg := dispatch.Config{
		Defaults: dispatch.Timings{
			ThrottleInterval: d.ThrottleWindow,
			DebounceQuiet:    d.DebounceQuiet,
			AggregateWindow:  d.AggregateWindow,
			StaleThreshold:   d.StaleThreshold,
		},
	}
	if len(d.Kinds) > 0 {
		cfg.Kinds = make(map[string]dispatch.Timings, len(d.Kinds))
		for kind, k := range d.Kinds {
			cfg.Kinds[kind] = dispatch.Timings{
				ThrottleInterval: k.ThrottleWindow,
				DebounceQuiet:    k.DebounceQuiet,
				AggregateWindow:  k.AggregateWindow,
				StaleThreshold:   k.StaleThreshold,
			}
		}
	}
	return cfg
}

// ResourceConfig converts the resources section.
func (c *Config) ResourceConfig() (resource.Config, error) {
	r := c.Resources
	cfg := resource.Config{
		MaxListeners:         r.MaxListeners,
		MaxMemoryBytes:       r.MaxMemoryBytes,
		SaturationWindow:     r.SaturationWindow,
		PerListenerOverhead:  r.PerListenerOverhead,
		AveragePayloadBytes:  r.AveragePayloadBytes,
		MaxProcessRSSBytes:   r.MaxProcessRSSBytes,
		EnforceListenerLimit: r.EnforceListenerLimit,
		Language:             language.English,
	}
	if r.Language != "" {
		tag, err := language.Parse(r.Language)
		if err != nil {
			return resource.Config{}, errs.Config("resources.language", "%v", err)
		}
		cfg.Language = tag
	}
	return cfg, nil
}

// Realtime converts the whole file into the client configuration.
func (c *Config) Realtime() (realtime.Config, error) {
	res, err := c.ResourceConfig()
	if err != nil {
		return realtime.Config{}, err
	}
	return realtime.Config{
		Connection: c.ConnectionConfig(),
		Store:      c.StoreConfig(),
		Dispatch:   c.DispatchConfig(),
		Resources:  res,

		HealthInterval: c.Resources.HealthInterval,
	}, nil
}

// KindModes returns the binding mode configured for each kind that names
// one.
func (c *Config) KindModes() (map[string]dispatch.Mode, error) {
	modes := make(map[string]dispatch.Mode)
	for kind, k := range c.Dispatch.Kinds {
		if k.Mode == "" {
			continue
		}
		m, err := dispatch.ParseMode(k.Mode)
		if err != nil {
			return nil, fmt.Errorf("dispatch.kinds.%s.mode: %w", kind, err)
		}
		modes[kind] = m
	}
	return modes, nil
}

// Credentials loads the bearer token from server.token or
// server.token_file.
func (c *Config) Credentials() (auth.Credentials, error) {
	return auth.LoadCredentials(c.Server.Token, c.Server.TokenFile)
}
