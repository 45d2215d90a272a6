package store

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/event"
	"github.com/rickgao/gridpulse/internal/ring"
)

// DefaultCapacity is the ring size for kinds without a retention override.
const DefaultCapacity = 100

// Config holds store configuration.
type Config struct {
	// Capacity is the ring size for every kind not listed in Retention.
	Capacity int

	// Retention overrides Capacity per kind.
	Retention map[string]int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{Capacity: DefaultCapacity}
}

// Validate checks capacities.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return errs.Config("store.ring_buffer_capacity", "must be >= 1, got %d", c.Capacity)
	}
	for kind, n := range c.Retention {
		if n < 1 {
			return errs.Config("store.retention."+kind, "must be >= 1, got %d", n)
		}
	}
	return nil
}

// CapacityFor returns the ring size used for kind.
func (c Config) CapacityFor(kind string) int {
	if n, ok := c.Retention[kind]; ok {
		return n
	}
	return c.Capacity
}

type kindBuffer struct {
	ring      *ring.Ring[event.Event]
	bytes     int64
	fullSince time.Time // zero while below capacity
}

// Store is a set of per-kind rings. It is safe for concurrent use.
type Store struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.RWMutex
	kinds map[string]*kindBuffer
}

// New creates a Store. A nil clk uses the wall clock.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	retention := make(map[string]int, len(cfg.Retention))
	for k, v := range cfg.Retention {
		retention[k] = v
	}
	cfg.Retention = retention

	return &Store{
		cfg:    cfg,
		clock:  clock.OrReal(clk),
		logger: logger.With("component", "store"),
		kinds:  make(map[string]*kindBuffer),
	}, nil
}

// Append records a new event for kind stamped with the current time. The
// payload bytes are copied. When the kind's ring is full the oldest event
// is evicted first.
func (s *Store) Append(kind string, payload json.RawMessage) event.Event {
	payload = append(json.RawMessage(nil), payload...)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stamped under the lock so ReceivedAt never decreases within a ring.
	ev := event.Event{Kind: kind, Payload: payload, ReceivedAt: s.clock.Now()}

	kb := s.kinds[kind]
	if kb == nil {
		kb = &kindBuffer{ring: ring.New[event.Event](s.cfg.CapacityFor(kind))}
		s.kinds[kind] = kb
	}

	old, evicted := kb.ring.Push(ev)
	kb.bytes += int64(len(ev.Payload))
	if evicted {
		kb.bytes -= int64(len(old.Payload))
		n := kb.ring.Evictions()
		// Log the first eviction and then every capacity-th so a steady
		// stream does not flood the log.
		if n == 1 || n%uint64(kb.ring.Cap()) == 0 {
			s.logger.Debug("ring full, evicting oldest",
				"kind", kind,
				"capacity", kb.ring.Cap(),
				"evictions", n,
				"error", errs.ErrBufferOverflow,
			)
		}
	}
	if kb.ring.Full() && kb.fullSince.IsZero() {
		kb.fullSince = ev.ReceivedAt
	}

	return ev
}

// Recent returns the events of kind received within window of now, oldest
// first. Entries exactly window old are included.
func (s *Store) Recent(kind string, window time.Duration) []event.Event {
	cutoff := s.clock.Now().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	kb := s.kinds[kind]
	if kb == nil {
		return nil
	}

	// ReceivedAt is non-decreasing within a ring, so find the first entry
	// inside the window and copy from there.
	n := kb.ring.Len()
	start := sort.Search(n, func(i int) bool {
		return !kb.ring.At(i).ReceivedAt.Before(cutoff)
	})
	if start == n {
		return nil
	}
	out := make([]event.Event, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, kb.ring.At(i))
	}
	return out
}

// All returns every retained event of kind, oldest first.
func (s *Store) All(kind string) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kb := s.kinds[kind]
	if kb == nil || kb.ring.Len() == 0 {
		return nil
	}
	return kb.ring.Items()
}

// Last returns the newest event of kind.
func (s *Store) Last(kind string) (event.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kb := s.kinds[kind]
	if kb == nil || kb.ring.Len() == 0 {
		return event.Event{}, false
	}
	return kb.ring.At(kb.ring.Len() - 1), true
}

// Clear empties the named kinds, or every kind when none are given.
func (s *Store) Clear(kinds ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(kinds) == 0 {
		for _, kb := range s.kinds {
			kb.clear()
		}
		return
	}
	for _, k := range kinds {
		if kb := s.kinds[k]; kb != nil {
			kb.clear()
		}
	}
}

func (kb *kindBuffer) clear() {
	kb.ring.Clear()
	kb.bytes = 0
	kb.fullSince = time.Time{}
}

// Kinds returns the kinds seen so far, sorted.
func (s *Store) Kinds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.kinds))
	for k := range s.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Capacity returns the ring size that kind uses or would use.
func (s *Store) Capacity(kind string) int {
	return s.cfg.CapacityFor(kind)
}
