package connection

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnection delays: min(Max, Base×2^(attempt-1)) plus
// a random jitter in [0, Jitter×delay].
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// randN returns a value in [0, n). Defaults to math/rand/v2.
	randN func(n time.Duration) time.Duration
}

// Delay returns the wait before attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}

	span := time.Duration(float64(d) * b.Jitter)
	if span <= 0 {
		return d
	}
	randN := b.randN
	if randN == nil {
		randN = rand.N[time.Duration]
	}
	return d + randN(span+1)
}

// Bounds returns the smallest and largest delay Delay can return for
// attempt.
func (b Backoff) Bounds(attempt int) (lo, hi time.Duration) {
	lo = Backoff{Base: b.Base, Max: b.Max}.Delay(attempt)
	return lo, lo + time.Duration(float64(lo)*b.Jitter)
}
