package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/event"
)

// Mode selects how a binding delivers events.
type Mode int

const (
	ModeDirect Mode = iota
	ModeThrottle
	ModeDebounce
	ModeAggregate
	ModeLatest
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeThrottle:
		return "throttle"
	case ModeDebounce:
		return "debounce"
	case ModeAggregate:
		return "aggregate"
	case ModeLatest:
		return "latest"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode maps a configuration string to a Mode. The empty string is
// ModeDirect.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct":
		return ModeDirect, nil
	case "throttle":
		return ModeThrottle, nil
	case "debounce":
		return ModeDebounce, nil
	case "aggregate":
		return ModeAggregate, nil
	case "latest":
		return ModeLatest, nil
	}
	return 0, fmt.Errorf("unknown dispatch mode %q", s)
}

// Handler receives delivered events.
type Handler func(ev event.Event)

// Reducer turns one aggregation window into a single event.
type Reducer func(batch []event.Event) event.Event

// Options tune a single binding. Zero values fall back to the dispatcher's
// per-kind configuration.
type Options struct {
	// Interval is the throttle window, the debounce quiet period or the
	// aggregation window, depending on the mode.
	Interval time.Duration

	// Reduce is required for ModeAggregate.
	Reduce Reducer

	// StaleThreshold applies to ModeLatest.
	StaleThreshold time.Duration

	// onBatch replaces Reduce+Handler for typed aggregation.
	onBatch func(batch []event.Event)
}

// Unsubscribe detaches a binding. It is safe to call more than once and
// from inside the binding's own handler.
type Unsubscribe func()

// Default timings.
const (
	DefaultThrottleInterval = time.Second / 60
	DefaultDebounceQuiet    = 200 * time.Millisecond
	DefaultAggregateWindow  = 100 * time.Millisecond
	DefaultStaleThreshold   = 30 * time.Second
)

// Timings holds the per-mode intervals for one kind.
type Timings struct {
	ThrottleInterval time.Duration
	DebounceQuiet    time.Duration
	AggregateWindow  time.Duration
	StaleThreshold   time.Duration
}

// Config holds dispatcher defaults and per-kind overrides. Zero fields in
// an override inherit the default.
type Config struct {
	Defaults Timings
	Kinds    map[string]Timings
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Defaults: Timings{
			ThrottleInterval: DefaultThrottleInterval,
			DebounceQuiet:    DefaultDebounceQuiet,
			AggregateWindow:  DefaultAggregateWindow,
			StaleThreshold:   DefaultStaleThreshold,
		},
	}
}

// Validate rejects non-positive defaults and negative overrides.
func (c Config) Validate() error {
	if err := c.Defaults.validate("dispatch", false); err != nil {
		return err
	}
	for kind, t := range c.Kinds {
		if err := t.validate("dispatch.kinds."+kind, true); err != nil {
			return err
		}
	}
	return nil
}

func (t Timings) validate(prefix string, allowZero bool) error {
	fields := []struct {
		name string
		v    time.Duration
	}{
		{"throttle_window", t.ThrottleInterval},
		{"debounce_quiet", t.DebounceQuiet},
		{"aggregate_window", t.AggregateWindow},
		{"stale_threshold", t.StaleThreshold},
	}
	for _, f := range fields {
		if f.v < 0 || (!allowZero && f.v == 0) {
			return errs.Config(prefix+"."+f.name, "must be positive, got %v", f.v)
		}
	}
	return nil
}

// For resolves the timings that apply to kind.
func (c Config) For(kind string) Timings {
	t := c.Defaults
	o, ok := c.Kinds[kind]
	if !ok {
		return t
	}
	if o.ThrottleInterval > 0 {
		t.ThrottleInterval = o.ThrottleInterval
	}
	if o.DebounceQuiet > 0 {
		t.DebounceQuiet = o.DebounceQuiet
	}
	if o.AggregateWindow > 0 {
		t.AggregateWindow = o.AggregateWindow
	}
	if o.StaleThreshold > 0 {
		t.StaleThreshold = o.StaleThreshold
	}
	return t
}

func (t Timings) interval(m Mode) time.Duration {
	switch m {
	case ModeThrottle:
		return t.ThrottleInterval
	case ModeDebounce:
		return t.DebounceQuiet
	case ModeAggregate:
		return t.AggregateWindow
	}
	return 0
}
