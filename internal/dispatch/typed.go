package dispatch

import (
	"time"

	"github.com/rickgao/gridpulse/internal/event"
)

// On delivers every event of k decoded as P. Events whose payload does not
// decode are counted and skipped.
func On[P any](d *Dispatcher, k event.Kind[P], fn func(P, event.Event)) (Unsubscribe, error) {
	return d.Subscribe(k.Name, ModeDirect, Options{}, typedHandler(d, k, fn))
}

// Throttle is the typed form of a ModeThrottle binding. A zero interval
// uses the kind's configured throttle window.
func Throttle[P any](d *Dispatcher, k event.Kind[P], interval time.Duration, fn func(P, event.Event)) (Unsubscribe, error) {
	return d.Subscribe(k.Name, ModeThrottle, Options{Interval: interval}, typedHandler(d, k, fn))
}

// Debounce is the typed form of a ModeDebounce binding. A zero quiet
// period uses the kind's configured one.
func Debounce[P any](d *Dispatcher, k event.Kind[P], quiet time.Duration, fn func(P, event.Event)) (Unsubscribe, error) {
	return d.Subscribe(k.Name, ModeDebounce, Options{Interval: quiet}, typedHandler(d, k, fn))
}

// Aggregate collects the decoded payloads of each window and delivers
// reduce's result. Windows in which nothing decodes deliver nothing.
func Aggregate[P, R any](d *Dispatcher, k event.Kind[P], window time.Duration, reduce func([]P) R, fn func(R)) (Unsubscribe, error) {
	onBatch := func(batch []event.Event) {
		values := make([]P, 0, len(batch))
		for _, ev := range batch {
			p, err := k.Decode(ev)
			if err != nil {
				d.decodeFailed(k.Name, err)
				continue
			}
			values = append(values, p)
		}
		if len(values) == 0 {
			return
		}
		fn(reduce(values))
	}
	return d.Subscribe(k.Name, ModeAggregate, Options{Interval: window, onBatch: onBatch}, nil)
}

func typedHandler[P any](d *Dispatcher, k event.Kind[P], fn func(P, event.Event)) Handler {
	if fn == nil {
		return nil
	}
	return func(ev event.Event) {
		p, err := k.Decode(ev)
		if err != nil {
			d.decodeFailed(k.Name, err)
			return
		}
		fn(p, ev)
	}
}

// Latest is a typed LatestValue.
type Latest[P any] struct {
	d     *Dispatcher
	kind  event.Kind[P]
	value *LatestValue
}

// TypedSnapshot is a Snapshot with the payload decoded.
type TypedSnapshot[P any] struct {
	Snapshot
	Value P
	Err   error // decode failure, if any
}

// LatestOf attaches a ModeLatest binding for k.
func LatestOf[P any](d *Dispatcher, k event.Kind[P], threshold time.Duration) (*Latest[P], Unsubscribe, error) {
	lv, unsub, err := d.Latest(k.Name, threshold)
	if err != nil {
		return nil, nil, err
	}
	return &Latest[P]{d: d, kind: k, value: lv}, unsub, nil
}

// Get decodes the newest payload.
func (l *Latest[P]) Get() TypedSnapshot[P] {
	snap := TypedSnapshot[P]{Snapshot: l.value.Get()}
	if !snap.OK {
		return snap
	}
	snap.Value, snap.Err = l.kind.Decode(snap.Event)
	if snap.Err != nil {
		l.d.decodeFailed(l.kind.Name, snap.Err)
	}
	return snap
}
