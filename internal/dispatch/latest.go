package dispatch

import (
	"sync"
	"time"

	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/event"
)

// Snapshot is the state of a LatestValue at read time.
type Snapshot struct {
	Event event.Event
	OK    bool // false until the first event arrives

	// IsStale is true when no event has arrived yet or when the newest one
	// is older than the threshold.
	IsStale bool
	Age     time.Duration
}

// LatestValue holds the newest event of a kind.
type LatestValue struct {
	clock     clock.Clock
	threshold time.Duration

	mu sync.RWMutex
	ev event.Event
	ok bool
}

func (l *LatestValue) set(ev event.Event) {
	l.mu.Lock()
	l.ev = ev
	l.ok = true
	l.mu.Unlock()
}

// Get returns the newest event with its age. An event is stale once its
// age strictly exceeds the threshold.
func (l *LatestValue) Get() Snapshot {
	l.mu.RLock()
	ev, ok := l.ev, l.ok
	l.mu.RUnlock()

	if !ok {
		return Snapshot{IsStale: true}
	}
	age := l.clock.Since(ev.ReceivedAt)
	return Snapshot{
		Event:   ev,
		OK:      true,
		IsStale: age > l.threshold,
		Age:     age,
	}
}

// Threshold returns the staleness threshold.
func (l *LatestValue) Threshold() time.Duration { return l.threshold }
