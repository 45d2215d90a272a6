package clock

import "time"

// Clock is the source of time and timers.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration

	// AfterFunc calls f in its own goroutine (Real) or synchronously
	// from Advance (Manual) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTimer returns a timer whose channel receives once after d.
	NewTimer(d time.Duration) (Timer, <-chan time.Time)

	// NewTicker returns a ticker whose channel receives every d.
	NewTicker(d time.Duration) (Ticker, <-chan time.Time)
}

// Timer mirrors the control surface of *time.Timer.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer.
	Stop() bool

	// Reset reschedules the timer to fire after d. It reports whether the
	// timer had been active.
	Reset(d time.Duration) bool
}

// Ticker mirrors the control surface of *time.Ticker.
type Ticker interface {
	Stop()
	Reset(d time.Duration)
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time                  { return time.Now() }
func (Real) Since(t time.Time) time.Duration { return time.Since(t) }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (Real) NewTimer(d time.Duration) (Timer, <-chan time.Time) {
	t := time.NewTimer(d)
	return t, t.C
}

func (Real) NewTicker(d time.Duration) (Ticker, <-chan time.Time) {
	t := time.NewTicker(d)
	return t, t.C
}

// OrReal returns c, or Real when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}
