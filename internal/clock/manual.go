package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a virtual clock for deterministic tests. Time only moves when
// Advance or AdvanceTo is called; timers due at or before the new time fire
// in deadline order (ties in scheduling order).
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	pending []*manualTimer
}

// NewManual creates a Manual clock starting at start. A zero start picks a
// fixed UTC instant so tests do not depend on the local zone.
func NewManual(start time.Time) *Manual {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Manual{now: start}
}

// Now returns the current virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Since returns Now().Sub(t).
func (m *Manual) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Advance moves the clock forward by d and fires every timer that comes due.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	m.AdvanceTo(target)
	return target
}

// AdvanceTo moves the clock to target, firing due timers one at a time.
// Callbacks run without the clock lock held; timers they schedule are
// honoured if they fall within target.
func (m *Manual) AdvanceTo(target time.Time) {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 || m.pending[0].when.After(target) {
			if target.After(m.now) {
				m.now = target
			}
			m.mu.Unlock()
			return
		}

		t := m.pending[0]
		m.pending = m.pending[1:]
		if t.when.After(m.now) {
			m.now = t.when
		}
		now := m.now
		if t.period > 0 {
			t.when = t.when.Add(t.period)
			m.insertLocked(t)
		} else {
			t.active = false
		}
		m.mu.Unlock()

		t.fire(now)
	}
}

// Pending returns the number of scheduled timers and tickers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// AfterFunc schedules f to run synchronously from Advance after d.
func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	t := &manualTimer{clock: m, fire: func(time.Time) { f() }}
	m.schedule(t, d)
	return t
}

// NewTimer returns a one-shot timer with a buffered channel.
func (m *Manual) NewTimer(d time.Duration) (Timer, <-chan time.Time) {
	ch := make(chan time.Time, 1)
	t := &manualTimer{clock: m, fire: sendFunc(ch)}
	m.schedule(t, d)
	return t, ch
}

// NewTicker returns a periodic ticker with a buffered channel. Ticks that
// find the buffer full are dropped, as with time.Ticker.
func (m *Manual) NewTicker(d time.Duration) (Ticker, <-chan time.Time) {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	ch := make(chan time.Time, 1)
	t := &manualTimer{clock: m, fire: sendFunc(ch), period: d}
	m.schedule(t, d)
	return &manualTicker{t: t}, ch
}

func sendFunc(ch chan time.Time) func(time.Time) {
	return func(now time.Time) {
		select {
		case ch <- now:
		default:
		}
	}
}

func (m *Manual) schedule(t *manualTimer, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(t)
	t.when = m.now.Add(d)
	t.active = true
	m.insertLocked(t)
}

func (m *Manual) insertLocked(t *manualTimer) {
	i := sort.Search(len(m.pending), func(i int) bool {
		p := m.pending[i]
		return p.when.After(t.when)
	})
	m.pending = append(m.pending, nil)
	copy(m.pending[i+1:], m.pending[i:])
	m.pending[i] = t
}

func (m *Manual) removeLocked(t *manualTimer) bool {
	for i, p := range m.pending {
		if p == t {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

type manualTimer struct {
	clock  *Manual
	when   time.Time
	period time.Duration
	active bool
	fire   func(now time.Time)
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := t.active
	t.active = false
	t.clock.removeLocked(t)
	return was
}

func (t *manualTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	was := t.active
	t.clock.mu.Unlock()
	t.clock.schedule(t, d)
	return was
}

type manualTicker struct {
	t *manualTimer
}

func (k *manualTicker) Stop() { k.t.Stop() }

func (k *manualTicker) Reset(d time.Duration) {
	k.t.clock.mu.Lock()
	k.t.period = d
	k.t.clock.mu.Unlock()
	k.t.clock.schedule(k.t, d)
}
