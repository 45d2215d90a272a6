package ring

import "sync"

// Queue is an unbounded, thread-safe FIFO. It doubles its backing array
// when full instead of dropping, so producers never block and never lose
// entries.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int
	count  int
	closed bool

	pushed  int64
	popped  int64
	resizes int
}

// NewQueue creates a Queue with the given initial capacity.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{buf: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v. It returns false once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if q.count == len(q.buf) {
		q.growLocked()
	}
	q.buf[(q.head+q.count)%len(q.buf)] = v
	q.count++
	q.pushed++
	q.cond.Signal()
	return true
}

// Pop blocks until an entry is available or the queue is closed and
// drained, in which case ok is false.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	return q.popLocked()
}

// TryPop returns the oldest entry without blocking.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.count == 0 {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.popped++
	return v, true
}

// Close stops accepting entries. Pending entries can still be popped;
// blocked Pop calls return once the queue is empty.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// QueueStats is a point-in-time view of a Queue.
type QueueStats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Resizes  int
}

func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:    q.count,
		Capacity: len(q.buf),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Resizes:  q.resizes,
	}
}

// growLocked doubles the backing array and unwraps it so head is 0.
func (q *Queue[T]) growLocked() {
	next := make([]T, len(q.buf)*2)
	n := copy(next, q.buf[q.head:])
	copy(next[n:], q.buf[:q.head])
	q.buf = next
	q.head = 0
	q.resizes++
}
