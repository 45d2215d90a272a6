package connection

import (
	"sync"
	"time"
)

// ReconnectionInfo tracks consecutive failed connection attempts. It is
// reset when the connection is established. Zero times mean "never".
type ReconnectionInfo struct {
	AttemptCount  int
	LastAttemptAt time.Time
	NextAttemptAt time.Time
}

// Metrics is a snapshot of the connection ledger.
type Metrics struct {
	State State

	// LatencySample is the most recent ping round trip; valid when
	// HasLatency is set.
	LatencySample time.Duration
	HasLatency    bool

	LastConnectedAt time.Time
	// CumulativeConnected is the total time spent connected in finished
	// sessions. It never decreases.
	CumulativeConnected time.Duration

	EventsReceived  uint64
	EventsSent      uint64
	EventsDropped   uint64 // inbound events dropped because the consumer lagged
	MalformedFrames uint64

	OutboundQueued  int
	OutboundEvicted uint64

	Reconnection ReconnectionInfo
	Degraded     bool
}

// Ledger accumulates connection metrics. It is safe for concurrent use.
type Ledger struct {
	degradedAfter int

	mu sync.Mutex
	m  Metrics
	up bool // inside a session
}

// NewLedger creates a Ledger that reports Degraded once degradedAfter
// consecutive attempts have failed.
func NewLedger(degradedAfter int) *Ledger {
	return &Ledger{degradedAfter: degradedAfter}
}

func (l *Ledger) connected(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m.LastConnectedAt = now
	l.m.Reconnection = ReconnectionInfo{}
	l.up = true
}

func (l *Ledger) disconnected(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.up {
		return
	}
	l.up = false
	if d := now.Sub(l.m.LastConnectedAt); d > 0 {
		l.m.CumulativeConnected += d
	}
}

func (l *Ledger) attemptFailed(now time.Time) ReconnectionInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m.Reconnection.AttemptCount++
	l.m.Reconnection.LastAttemptAt = now
	l.m.Reconnection.NextAttemptAt = time.Time{}
	return l.m.Reconnection
}

func (l *Ledger) scheduled(next time.Time) {
	l.mu.Lock()
	l.m.Reconnection.NextAttemptAt = next
	l.mu.Unlock()
}

func (l *Ledger) unscheduled() {
	l.mu.Lock()
	l.m.Reconnection.NextAttemptAt = time.Time{}
	l.mu.Unlock()
}

func (l *Ledger) received() {
	l.mu.Lock()
	l.m.EventsReceived++
	l.mu.Unlock()
}

func (l *Ledger) sent() {
	l.mu.Lock()
	l.m.EventsSent++
	l.mu.Unlock()
}

func (l *Ledger) dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m.EventsDropped++
	return l.m.EventsDropped
}

func (l *Ledger) malformed() {
	l.mu.Lock()
	l.m.MalformedFrames++
	l.mu.Unlock()
}

func (l *Ledger) latency(d time.Duration) {
	l.mu.Lock()
	l.m.LatencySample = d
	l.m.HasLatency = true
	l.mu.Unlock()
}

// Snapshot returns a copy of the current metrics.
func (l *Ledger) Snapshot() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.m
	m.Degraded = m.Reconnection.AttemptCount >= l.degradedAfter
	return m
}

// Uptime returns the cumulative connected time including the current
// session.
func (m Metrics) Uptime(now time.Time) time.Duration {
	if m.State != StateConnected || m.LastConnectedAt.IsZero() {
		return m.CumulativeConnected
	}
	return m.CumulativeConnected + now.Sub(m.LastConnectedAt)
}
