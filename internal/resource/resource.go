package resource

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/store"
)

// ErrListenerLimit is returned by RegisterListener when EnforceListenerLimit
// is set and MaxListeners registrations already exist.
var ErrListenerLimit = errors.New("listener limit reached")

// Default thresholds.
const (
	DefaultMaxListeners        = 500
	DefaultMaxMemoryBytes      = 5 << 20
	DefaultSaturationWindow    = 10 * time.Second
	DefaultPerListenerOverhead = 512
)

// Config holds resource manager thresholds.
type Config struct {
	MaxListeners     int
	MaxMemoryBytes   int64
	SaturationWindow time.Duration

	// PerListenerOverhead is the fixed cost charged per binding.
	PerListenerOverhead int64

	// AveragePayloadBytes overrides the average measured from the store.
	// Zero uses the measured value.
	AveragePayloadBytes int64

	// MaxProcessRSSBytes enables a process RSS check. Zero disables it.
	MaxProcessRSSBytes uint64

	// EnforceListenerLimit rejects registrations beyond MaxListeners
	// instead of only warning.
	EnforceListenerLimit bool

	// Language formats the numbers in warnings. Defaults to English.
	Language language.Tag
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MaxListeners:        DefaultMaxListeners,
		MaxMemoryBytes:      DefaultMaxMemoryBytes,
		SaturationWindow:    DefaultSaturationWindow,
		PerListenerOverhead: DefaultPerListenerOverhead,
		Language:            language.English,
	}
}

// Validate checks thresholds.
func (c Config) Validate() error {
	if c.MaxListeners < 1 {
		return errs.Config("resources.max_listeners", "must be >= 1, got %d", c.MaxListeners)
	}
	if c.MaxMemoryBytes < 1 {
		return errs.Config("resources.max_memory_bytes", "must be >= 1, got %d", c.MaxMemoryBytes)
	}
	if c.SaturationWindow <= 0 {
		return errs.Config("resources.saturation_window", "must be positive, got %v", c.SaturationWindow)
	}
	if c.PerListenerOverhead < 0 {
		return errs.Config("resources.per_listener_overhead", "must be >= 0, got %d", c.PerListenerOverhead)
	}
	if c.AveragePayloadBytes < 0 {
		return errs.Config("resources.average_payload_bytes", "must be >= 0, got %d", c.AveragePayloadBytes)
	}
	return nil
}

// HandlerID identifies one listener registration.
type HandlerID string

// Registration is the metadata kept for a listener. Handler closures are
// owned by the dispatcher, never by the resource manager.
type Registration struct {
	ID           HandlerID
	Kind         string
	RegisteredAt time.Time
}

// ListenerStats is the listener count, total and per kind.
type ListenerStats struct {
	Total  int
	ByKind map[string]int
}

// StoreStats is the part of the event store the manager reads.
type StoreStats interface {
	Stats() store.Stats
}

// Manager tracks listener registrations and evaluates resource health.
type Manager struct {
	cfg     Config
	src     StoreStats
	clock   clock.Clock
	logger  *slog.Logger
	printer *message.Printer
	rss     func() (uint64, error)

	mu          sync.Mutex
	listeners   map[HandlerID]Registration
	byKind      map[string]int
	lastHealthy bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRSSSampler replaces the process RSS sampler.
func WithRSSSampler(f func() (uint64, error)) Option {
	return func(m *Manager) { m.rss = f }
}

// New creates a Manager. src may be nil, in which case the estimate only
// counts listeners.
func New(cfg Config, src StoreStats, clk clock.Clock, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Language == language.Und {
		cfg.Language = language.English
	}

	m := &Manager{
		cfg:         cfg,
		src:         src,
		clock:       clock.OrReal(clk),
		logger:      logger.With("component", "resource"),
		printer:     message.NewPrinter(cfg.Language),
		rss:         processRSS,
		listeners:   make(map[HandlerID]Registration),
		byKind:      make(map[string]int),
		lastHealthy: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RegisterListener records a new listener for kind.
func (m *Manager) RegisterListener(kind string) (HandlerID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.EnforceListenerLimit && len(m.listeners) >= m.cfg.MaxListeners {
		return "", ErrListenerLimit
	}

	id := HandlerID(uuid.NewString())
	m.listeners[id] = Registration{ID: id, Kind: kind, RegisteredAt: m.clock.Now()}
	m.byKind[kind]++

	if len(m.listeners) == m.cfg.MaxListeners+1 {
		m.logger.Warn("listener count above limit",
			"listeners", len(m.listeners),
			"max_listeners", m.cfg.MaxListeners,
			"kind", kind,
		)
	}
	return id, nil
}

// UnregisterListener removes a registration. Unknown or already removed
// IDs are ignored.
func (m *Manager) UnregisterListener(id HandlerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.listeners[id]
	if !ok {
		return
	}
	delete(m.listeners, id)
	if m.byKind[reg.Kind]--; m.byKind[reg.Kind] <= 0 {
		delete(m.byKind, reg.Kind)
	}
}

// Registration returns the metadata for id.
func (m *Manager) Registration(id HandlerID) (Registration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.listeners[id]
	return reg, ok
}

// ListenerStats returns the current listener counts.
func (m *Manager) ListenerStats() ListenerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := ListenerStats{Total: len(m.listeners), ByKind: make(map[string]int, len(m.byKind))}
	for k, n := range m.byKind {
		st.ByKind[k] = n
	}
	return st
}

// MemoryEstimate returns the estimated bytes held by the store rings and
// listener bookkeeping. See the package documentation for the formula.
func (m *Manager) MemoryEstimate() int64 {
	var st store.Stats
	if m.src != nil {
		st = m.src.Stats()
	}
	return m.estimate(st, m.ListenerStats().Total)
}

func (m *Manager) estimate(st store.Stats, listeners int) int64 {
	avg := m.cfg.AveragePayloadBytes
	if avg == 0 {
		avg = st.AveragePayloadBytes()
	}

	var total int64
	for _, ks := range st.Kinds {
		total += int64(ks.Capacity) * avg
	}
	return total + int64(listeners)*m.cfg.PerListenerOverhead
}

// Config returns the manager configuration.
func (m *Manager) Config() Config { return m.cfg }
