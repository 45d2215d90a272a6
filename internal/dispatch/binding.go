package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/event"
	"github.com/rickgao/gridpulse/internal/resource"
)

// delivery is one queued handler invocation. Aggregate windows carry the
// batch and are reduced at invocation time.
type delivery struct {
	ev    event.Event
	batch []event.Event
}

type binding struct {
	d         *Dispatcher
	id        uint64
	kind      string
	mode      Mode
	interval  time.Duration
	reduce    Reducer
	onBatch   func([]event.Event)
	fn        Handler
	latest    *LatestValue
	handlerID resource.HandlerID

	// live mirrors active for the lock-free check right before a handler
	// runs.
	live atomic.Bool
	once sync.Once

	mu       sync.Mutex
	active   bool
	timer    clock.Timer
	gen      uint64 // bumped on every (re)schedule; stale timer fires are ignored
	open     bool   // throttle window open
	pending  *event.Event
	batch    []event.Event
	outbox   []delivery
	draining bool
}

func (b *binding) publish(ev event.Event) {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}

	switch b.mode {
	case ModeDirect:
		b.outbox = append(b.outbox, delivery{ev: ev})

	case ModeThrottle:
		if !b.open {
			b.open = true
			b.scheduleLocked(b.interval)
			b.outbox = append(b.outbox, delivery{ev: ev})
		} else {
			b.pending = &ev
		}

	case ModeDebounce:
		b.pending = &ev
		b.scheduleLocked(b.interval)

	case ModeAggregate:
		if len(b.batch) == 0 {
			b.scheduleLocked(b.interval)
		}
		b.batch = append(b.batch, ev)

	case ModeLatest:
		b.latest.set(ev)
		if b.fn != nil {
			b.outbox = append(b.outbox, delivery{ev: ev})
		}
	}
	b.mu.Unlock()

	b.drain()
}

// scheduleLocked (re)arms the binding timer.
func (b *binding) scheduleLocked(d time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = b.d.clock.AfterFunc(d, func() { b.fire(gen) })
}

func (b *binding) fire(gen uint64) {
	b.mu.Lock()
	if !b.active || gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.timer = nil

	switch b.mode {
	case ModeThrottle:
		if b.pending != nil {
			b.outbox = append(b.outbox, delivery{ev: *b.pending})
			b.pending = nil
			b.scheduleLocked(b.interval)
		} else {
			b.open = false
		}

	case ModeDebounce:
		if b.pending != nil {
			b.outbox = append(b.outbox, delivery{ev: *b.pending})
			b.pending = nil
		}

	case ModeAggregate:
		if len(b.batch) > 0 {
			b.outbox = append(b.outbox, delivery{batch: b.batch})
			b.batch = nil
		}
	}
	b.mu.Unlock()

	b.drain()
}

// drain runs queued deliveries in order. Whichever goroutine finds the
// binding idle delivers everything queued, including entries queued by
// other goroutines (or by the handler itself) meanwhile.
func (b *binding) drain() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for b.active && len(b.outbox) > 0 {
		next := b.outbox[0]
		b.outbox[0] = delivery{}
		b.outbox = b.outbox[1:]
		b.mu.Unlock()

		b.invoke(next)

		b.mu.Lock()
	}
	b.draining = false
	if len(b.outbox) == 0 {
		b.outbox = nil
	}
	b.mu.Unlock()
}

func (b *binding) invoke(dl delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.d.consumerPanics.Add(1)
			b.d.logger.Error("consumer panicked",
				"kind", b.kind,
				"mode", b.mode.String(),
				"binding_id", b.id,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if !b.live.Load() {
		return
	}

	if dl.batch != nil {
		if b.onBatch != nil {
			b.onBatch(dl.batch)
			b.d.delivered.Add(1)
			return
		}
		ev := b.reduce(dl.batch)
		if !b.live.Load() {
			return
		}
		b.d.delivered.Add(1)
		b.fn(ev)
		return
	}

	b.d.delivered.Add(1)
	b.fn(dl.ev)
}

func (b *binding) unsubscribe() {
	b.once.Do(func() {
		b.mu.Lock()
		b.active = false
		b.live.Store(false)
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		b.gen++
		b.pending = nil
		b.batch = nil
		b.outbox = nil
		b.mu.Unlock()

		b.d.detach(b)
	})
}
