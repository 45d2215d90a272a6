package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/errs"
	"github.com/rickgao/gridpulse/internal/event"
)

func newTestStore(t *testing.T, cfg Config) (*Store, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Time{})
	s, err := New(cfg, clk, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, clk
}

func payload(i int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))
}

func payloads(evs []event.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = string(ev.Payload)
	}
	return out
}

func TestStore_RetainsMostRecentFIFO(t *testing.T) {
	for _, capacity := range []int{1, 3, 100} {
		t.Run(fmt.Sprintf("capacity=%d", capacity), func(t *testing.T) {
			s, _ := newTestStore(t, Config{Capacity: capacity})

			total := capacity*2 + 7
			for i := 0; i < total; i++ {
				s.Append("device.reading", payload(i))
			}

			var want []string
			for i := total - capacity; i < total; i++ {
				want = append(want, string(payload(i)))
			}
			if diff := cmp.Diff(want, payloads(s.All("device.reading"))); diff != "" {
				t.Errorf("All() mismatch (-want +got):\n%s", diff)
			}

			st := s.Stats().Kinds["device.reading"]
			if st.Count != capacity {
				t.Errorf("Count = %d, want %d", st.Count, capacity)
			}
			if st.Evictions != uint64(total-capacity) {
				t.Errorf("Evictions = %d, want %d", st.Evictions, total-capacity)
			}
		})
	}
}

func TestStore_RetentionOverride(t *testing.T) {
	s, _ := newTestStore(t, Config{
		Capacity:  2,
		Retention: map[string]int{"alert.raised": 5},
	})

	for i := 0; i < 10; i++ {
		s.Append("alert.raised", payload(i))
		s.Append("notification", payload(i))
	}

	if got := len(s.All("alert.raised")); got != 5 {
		t.Errorf("len(All(alert.raised)) = %d, want 5", got)
	}
	if got := len(s.All("notification")); got != 2 {
		t.Errorf("len(All(notification)) = %d, want 2", got)
	}
	if s.Capacity("alert.raised") != 5 || s.Capacity("other") != 2 {
		t.Errorf("Capacity() = %d/%d, want 5/2", s.Capacity("alert.raised"), s.Capacity("other"))
	}
}

func TestStore_Recent(t *testing.T) {
	s, clk := newTestStore(t, DefaultConfig())

	// Events at t=0, 100, 200, 300 ms.
	for i := 0; i < 4; i++ {
		s.Append("meter.usage", payload(i))
		clk.Advance(100 * time.Millisecond)
	}
	// now = 400ms

	tests := []struct {
		window time.Duration
		want   []string
	}{
		{50 * time.Millisecond, nil},
		{100 * time.Millisecond, []string{`{"seq":3}`}},
		{250 * time.Millisecond, []string{`{"seq":2}`, `{"seq":3}`}},
		{time.Hour, []string{`{"seq":0}`, `{"seq":1}`, `{"seq":2}`, `{"seq":3}`}},
	}

	for _, tt := range tests {
		t.Run(tt.window.String(), func(t *testing.T) {
			got := s.Recent("meter.usage", tt.window)
			var gotPayloads []string
			if len(got) > 0 {
				gotPayloads = payloads(got)
			}
			if diff := cmp.Diff(tt.want, gotPayloads); diff != "" {
				t.Errorf("Recent(%v) mismatch (-want +got):\n%s", tt.window, diff)
			}
		})
	}

	if got := s.Recent("unknown", time.Hour); got != nil {
		t.Errorf("Recent(unknown) = %v, want nil", got)
	}
}

func TestStore_RecentIsPureRead(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	s.Append("device.status", payload(1))

	before := s.Stats()
	s.Recent("device.status", time.Minute)
	s.Recent("device.status", time.Minute)
	if diff := cmp.Diff(before, s.Stats()); diff != "" {
		t.Errorf("Recent mutated the store (-before +after):\n%s", diff)
	}
}

func TestStore_AppendCopiesPayload(t *testing.T) {
	s, clk := newTestStore(t, DefaultConfig())

	buf := []byte(`{"v":1}`)
	ev := s.Append("device.reading", buf)
	copy(buf, `{"v":9}`)

	if string(s.All("device.reading")[0].Payload) != `{"v":1}` {
		t.Error("stored payload changed after caller mutated its buffer")
	}
	if !ev.ReceivedAt.Equal(clk.Now()) {
		t.Errorf("ReceivedAt = %v, want %v", ev.ReceivedAt, clk.Now())
	}
	if last, ok := s.Last("device.reading"); !ok || string(last.Payload) != `{"v":1}` {
		t.Errorf("Last() = %s, %v", last.Payload, ok)
	}
}

func TestStore_Clear(t *testing.T) {
	s, _ := newTestStore(t, DefaultConfig())
	for _, k := range []string{"a", "b", "c"} {
		s.Append(k, payload(1))
	}

	s.Clear("a")
	if s.All("a") != nil {
		t.Error("All(a) not empty after Clear(a)")
	}
	if len(s.All("b")) != 1 {
		t.Error("Clear(a) touched b")
	}

	s.Clear()
	for _, k := range []string{"b", "c"} {
		if s.All(k) != nil {
			t.Errorf("All(%s) not empty after Clear()", k)
		}
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, s.Kinds()); diff != "" {
		t.Errorf("Kinds() mismatch (-want +got):\n%s", diff)
	}
	if s.Stats().TotalBytes != 0 {
		t.Errorf("TotalBytes = %d after Clear, want 0", s.Stats().TotalBytes)
	}
}

func TestStore_StatsFullSince(t *testing.T) {
	s, clk := newTestStore(t, Config{Capacity: 2})

	s.Append("k", json.RawMessage(`1234`))
	if !s.Stats().Kinds["k"].FullSince.IsZero() {
		t.Error("FullSince set before reaching capacity")
	}

	clk.Advance(time.Second)
	s.Append("k", json.RawMessage(`12`))
	fullAt := clk.Now()

	clk.Advance(time.Second)
	s.Append("k", json.RawMessage(`123456`))

	st := s.Stats()
	ks := st.Kinds["k"]
	if !ks.FullSince.Equal(fullAt) {
		t.Errorf("FullSince = %v, want %v", ks.FullSince, fullAt)
	}
	if ks.PayloadBytes != 8 {
		t.Errorf("PayloadBytes = %d, want 8", ks.PayloadBytes)
	}
	if st.AveragePayloadBytes() != 4 {
		t.Errorf("AveragePayloadBytes() = %d, want 4", st.AveragePayloadBytes())
	}

	s.Clear("k")
	if !s.Stats().Kinds["k"].FullSince.IsZero() {
		t.Error("FullSince kept after Clear")
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero capacity", Config{Capacity: 0}},
		{"negative retention", Config{Capacity: 10, Retention: map[string]int{"k": -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil, nil)
			if !errors.Is(err, errs.ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

// steppingClock advances one millisecond on every Now call and yields so
// concurrent callers interleave.
type steppingClock struct {
	clock.Real
	ticks atomic.Int64
}

func (c *steppingClock) Now() time.Time {
	n := c.ticks.Add(1)
	runtime.Gosched()
	return time.Unix(0, 0).Add(time.Duration(n) * time.Millisecond)
}

func TestStore_ConcurrentAppendKeepsTimeOrder(t *testing.T) {
	clk := &steppingClock{}
	s, err := New(Config{Capacity: 1000}, clk, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Append("device.reading", payload(i))
			}
		}()
	}
	wg.Wait()

	all := s.All("device.reading")
	if len(all) != 800 {
		t.Fatalf("len(All) = %d, want 800", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ReceivedAt.Before(all[i-1].ReceivedAt) {
			t.Fatalf("ReceivedAt decreases at %d: %v after %v", i, all[i].ReceivedAt, all[i-1].ReceivedAt)
		}
	}
}
