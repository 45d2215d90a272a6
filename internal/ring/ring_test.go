package ring

import (
	"sync"
	"testing"
	"time"
)

func TestRing_EvictsOldest(t *testing.T) {
	r := New[int](3)

	for i := 1; i <= 3; i++ {
		if _, evicted := r.Push(i); evicted {
			t.Fatalf("Push(%d) evicted before the ring was full", i)
		}
	}
	if !r.Full() {
		t.Fatal("Full() = false after 3 pushes")
	}

	old, evicted := r.Push(4)
	if !evicted || old != 1 {
		t.Errorf("Push(4) = (%d, %v), want (1, true)", old, evicted)
	}

	got := r.Items()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Items() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Items()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if r.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", r.Evictions())
	}
}

func TestRing_WrapAroundPreservesOrder(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 11; i++ {
		r.Push(i)
	}

	for i, want := range []int{7, 8, 9, 10} {
		if got := r.At(i); got != want {
			t.Errorf("At(%d) = %d, want %d", i, got, want)
		}
	}

	v, ok := r.Pop()
	if !ok || v != 7 {
		t.Errorf("Pop() = (%d, %v), want (7, true)", v, ok)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRing_DrainAndClear(t *testing.T) {
	r := New[string](2)
	r.Push("a")
	r.Push("b")
	r.Push("c")

	got := r.Drain()
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Drain() = %v, want [b c]", got)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", r.Len())
	}
	if r.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1 (kept across Clear)", r.Evictions())
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop() on empty ring returned ok")
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := New[int](0)
	if r.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", r.Cap())
	}
}

func TestQueue_GrowsWithoutDropping(t *testing.T) {
	q := NewQueue[int](2)

	for i := 0; i < 100; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) returned false", i)
		}
	}

	stats := q.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.Resizes == 0 {
		t.Error("Resizes = 0, expected growth")
	}

	for i := 0; i < 100; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("TryPop() = (%d, %v), want (%d, true)", v, ok, i)
		}
	}
}

func TestQueue_GrowAfterWrap(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(0)
	q.Push(1)
	q.TryPop()
	q.TryPop()
	for i := 2; i < 8; i++ {
		q.Push(i)
	}
	for i := 2; i < 8; i++ {
		v, _ := q.TryPop()
		if v != i {
			t.Errorf("TryPop() = %d, want %d", v, i)
		}
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue[int](1)

	done := make(chan int)
	go func() {
		v, _ := q.Pop()
		done <- v
	}()

	select {
	case <-done:
		t.Fatal("Pop returned before Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(42)
	select {
	case v := <-done:
		if v != 42 {
			t.Errorf("Pop() = %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := NewQueue[int](4)
	q.Push(1)
	q.Close()

	if q.Push(2) {
		t.Error("Push after Close returned true")
	}
	if v, ok := q.Pop(); !ok || v != 1 {
		t.Errorf("Pop() = (%d, %v), want (1, true)", v, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on closed empty queue returned ok")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue[int](8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	q.Close()

	n := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		n++
	}
	if n != 1000 {
		t.Errorf("popped %d entries, want 1000", n)
	}
}
