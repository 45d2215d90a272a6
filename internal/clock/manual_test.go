package clock

import (
	"testing"
	"time"
)

func TestManual_AfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := NewManual(time.Time{})
	start := c.Now()

	var order []string
	c.AfterFunc(30*time.Millisecond, func() { order = append(order, "b") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })

	c.Advance(29 * time.Millisecond)
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("after 29ms order = %v, want [a]", order)
	}

	c.Advance(time.Millisecond)
	if got := len(order); got != 3 {
		t.Fatalf("fired %d timers, want 3", got)
	}
	if order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
	if got := c.Since(start); got != 30*time.Millisecond {
		t.Errorf("Since(start) = %v, want 30ms", got)
	}
}

func TestManual_CallbackSeesDeadlineAndMayReschedule(t *testing.T) {
	c := NewManual(time.Time{})
	start := c.Now()

	var fired []time.Duration
	var tick func()
	tick = func() {
		fired = append(fired, c.Since(start))
		if len(fired) < 3 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)

	c.Advance(time.Second)

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %v, want %v", i, fired[i], want[i])
		}
	}
}

func TestManual_StopAndReset(t *testing.T) {
	c := NewManual(time.Time{})

	calls := 0
	timer := c.AfterFunc(50*time.Millisecond, func() { calls++ })

	if !timer.Stop() {
		t.Error("Stop() = false on an active timer")
	}
	if timer.Stop() {
		t.Error("Stop() = true on a stopped timer")
	}
	c.Advance(time.Second)
	if calls != 0 {
		t.Errorf("calls = %d after Stop, want 0", calls)
	}

	timer.Reset(10 * time.Millisecond)
	c.Advance(10 * time.Millisecond)
	if calls != 1 {
		t.Errorf("calls = %d after Reset, want 1", calls)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestManual_Ticker(t *testing.T) {
	c := NewManual(time.Time{})
	ticker, ch := c.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		c.Advance(25 * time.Millisecond)
		select {
		case <-ch:
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ch:
		t.Error("tick delivered after Stop")
	default:
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(Real); !ok {
		t.Error("OrReal(nil) should return Real")
	}
	m := NewManual(time.Time{})
	if OrReal(m) != Clock(m) {
		t.Error("OrReal(m) should return m")
	}
}
