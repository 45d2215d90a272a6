package dispatch

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/event"
	"github.com/rickgao/gridpulse/internal/resource"
)

// ListenerTracker is told about every binding that is attached or
// detached. The resource manager implements it.
type ListenerTracker interface {
	RegisterListener(kind string) (resource.HandlerID, error)
	UnregisterListener(id resource.HandlerID)
}

// Stats are dispatcher-wide counters.
type Stats struct {
	Published      uint64
	Delivered      uint64
	ConsumerPanics uint64
	DecodeErrors   uint64
	Bindings       int
	ByMode         map[string]int
}

// Dispatcher routes published events to bindings.
type Dispatcher struct {
	cfg     Config
	clock   clock.Clock
	tracker ListenerTracker
	logger  *slog.Logger

	mu       sync.RWMutex
	bindings map[string]map[uint64]*binding
	nextID   uint64
	closed   bool

	published      atomic.Uint64
	delivered      atomic.Uint64
	consumerPanics atomic.Uint64
	decodeErrors   atomic.Uint64
}

// New creates a Dispatcher. clk and tracker may be nil.
func New(cfg Config, clk clock.Clock, tracker ListenerTracker, logger *slog.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:      cfg,
		clock:    clock.OrReal(clk),
		tracker:  tracker,
		logger:   logger.With("component", "dispatch"),
		bindings: make(map[string]map[uint64]*binding),
	}, nil
}

// Subscribe attaches fn to kind with the given mode. fn may be nil only
// for ModeLatest.
func (d *Dispatcher) Subscribe(kind string, mode Mode, opts Options, fn Handler) (Unsubscribe, error) {
	b, err := d.attach(kind, mode, opts, fn)
	if err != nil {
		return nil, err
	}
	return b.unsubscribe, nil
}

// Latest attaches a ModeLatest binding and returns its value holder. A zero
// threshold uses the kind's configured stale threshold.
func (d *Dispatcher) Latest(kind string, threshold time.Duration) (*LatestValue, Unsubscribe, error) {
	b, err := d.attach(kind, ModeLatest, Options{StaleThreshold: threshold}, nil)
	if err != nil {
		return nil, nil, err
	}
	return b.latest, b.unsubscribe, nil
}

func (d *Dispatcher) attach(kind string, mode Mode, opts Options, fn Handler) (*binding, error) {
	if kind == "" {
		return nil, errs.Config("kind", "must not be empty")
	}
	if opts.Interval < 0 {
		return nil, errs.Config("interval", "must not be negative, got %v", opts.Interval)
	}
	if opts.StaleThreshold < 0 {
		return nil, errs.Config("stale_threshold", "must not be negative, got %v", opts.StaleThreshold)
	}

	timings := d.cfg.For(kind)
	b := &binding{
		d:        d,
		kind:     kind,
		mode:     mode,
		interval: opts.Interval,
		reduce:   opts.Reduce,
		onBatch:  opts.onBatch,
		fn:       fn,
	}
	if b.interval == 0 {
		b.interval = timings.interval(mode)
	}

	switch mode {
	case ModeDirect, ModeThrottle, ModeDebounce:
		if fn == nil {
			return nil, errs.Config("handler", "required for %s bindings", mode)
		}
	case ModeAggregate:
		if b.onBatch == nil && (fn == nil || b.reduce == nil) {
			return nil, errs.Config("reduce", "aggregate bindings need a reducer and a handler")
		}
	case ModeLatest:
		threshold := opts.StaleThreshold
		if threshold == 0 {
			threshold = timings.StaleThreshold
		}
		b.latest = &LatestValue{clock: d.clock, threshold: threshold}
	default:
		return nil, errs.Config("mode", "unknown mode %s", mode)
	}

	if d.tracker != nil {
		id, err := d.tracker.RegisterListener(kind)
		if err != nil {
			return nil, fmt.Errorf("register %s listener: %w", kind, err)
		}
		b.handlerID = id
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		if d.tracker != nil {
			d.tracker.UnregisterListener(b.handlerID)
		}
		return nil, errs.ErrClosed
	}
	d.nextID++
	b.id = d.nextID
	b.active = true
	b.live.Store(true)
	byKind := d.bindings[kind]
	if byKind == nil {
		byKind = make(map[uint64]*binding)
		d.bindings[kind] = byKind
	}
	byKind[b.id] = b
	d.mu.Unlock()

	d.logger.Debug("binding attached",
		"kind", kind,
		"mode", mode.String(),
		"interval", b.interval,
		"binding_id", b.id,
	)
	return b, nil
}

func (d *Dispatcher) detach(b *binding) {
	d.mu.Lock()
	if byKind := d.bindings[b.kind]; byKind != nil {
		delete(byKind, b.id)
		if len(byKind) == 0 {
			delete(d.bindings, b.kind)
		}
	}
	d.mu.Unlock()

	if d.tracker != nil && b.handlerID != "" {
		d.tracker.UnregisterListener(b.handlerID)
	}
	d.logger.Debug("binding detached", "kind", b.kind, "mode", b.mode.String(), "binding_id", b.id)
}

// Publish hands ev to every binding of its kind, in subscription order.
func (d *Dispatcher) Publish(ev event.Event) {
	d.published.Add(1)

	d.mu.RLock()
	byKind := d.bindings[ev.Kind]
	targets := make([]*binding, 0, len(byKind))
	for _, b := range byKind {
		targets = append(targets, b)
	}
	d.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, b := range targets {
		b.publish(ev)
	}
}

// Close detaches every binding. Later Subscribe calls fail with
// errs.ErrClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	var all []*binding
	for _, byKind := range d.bindings {
		for _, b := range byKind {
			all = append(all, b)
		}
	}
	d.mu.Unlock()

	for _, b := range all {
		b.unsubscribe()
	}
}

// Stats returns dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	st := Stats{
		Published:      d.published.Load(),
		Delivered:      d.delivered.Load(),
		ConsumerPanics: d.consumerPanics.Load(),
		DecodeErrors:   d.decodeErrors.Load(),
		ByMode:         make(map[string]int),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, byKind := range d.bindings {
		for _, b := range byKind {
			st.Bindings++
			st.ByMode[b.mode.String()]++
		}
	}
	return st
}

// Config returns the dispatcher configuration.
func (d *Dispatcher) Config() Config { return d.cfg }

func (d *Dispatcher) decodeFailed(kind string, err error) {
	d.decodeErrors.Add(1)
	d.logger.Warn("payload decode failed", "kind", kind, "error", err)
}
