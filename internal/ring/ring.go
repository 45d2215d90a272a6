package ring

// Ring is a fixed-capacity FIFO. Pushing into a full Ring overwrites the
// oldest entry. Ring is not safe for concurrent use; owners guard it.
type Ring[T any] struct {
	buf   []T
	head  int // oldest entry
	count int

	evictions uint64
}

// New creates a Ring holding at most capacity entries. A capacity below 1
// is raised to 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v. When the ring was full the overwritten entry is returned
// with evicted set to true.
func (r *Ring[T]) Push(v T) (old T, evicted bool) {
	capacity := len(r.buf)
	if r.count < capacity {
		r.buf[(r.head+r.count)%capacity] = v
		r.count++
		return old, false
	}

	old = r.buf[r.head]
	r.buf[r.head] = v
	r.head = (r.head + 1) % capacity
	r.evictions++
	return old, true
}

// Pop removes and returns the oldest entry.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

// At returns the i-th entry counting from the oldest.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("ring: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Items returns a copy of the entries, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.count)
	for i := range out {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Drain removes every entry and returns them oldest first.
func (r *Ring[T]) Drain() []T {
	out := r.Items()
	r.Clear()
	return out
}

// Clear drops every entry. The eviction counter is kept.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.count = 0
}

func (r *Ring[T]) Len() int   { return r.count }
func (r *Ring[T]) Cap() int   { return len(r.buf) }
func (r *Ring[T]) Full() bool { return r.count == len(r.buf) }

// Evictions returns how many entries were overwritten since creation.
func (r *Ring[T]) Evictions() uint64 { return r.evictions }
