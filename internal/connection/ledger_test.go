package connection

import (
	"testing"
	"time"
)

func TestLedger_AttemptsResetOnConnect(t *testing.T) {
	l := NewLedger(3)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		info := l.attemptFailed(t0.Add(time.Duration(i) * time.Second))
		if info.AttemptCount != i {
			t.Fatalf("AttemptCount = %d, want %d", info.AttemptCount, i)
		}
	}
	snap := l.Snapshot()
	if !snap.Degraded {
		t.Error("Degraded = false after 3 failures")
	}
	if !snap.Reconnection.LastAttemptAt.Equal(t0.Add(3 * time.Second)) {
		t.Errorf("LastAttemptAt = %v", snap.Reconnection.LastAttemptAt)
	}

	l.connected(t0.Add(10 * time.Second))
	snap = l.Snapshot()
	if snap.Reconnection != (ReconnectionInfo{}) {
		t.Errorf("Reconnection = %+v, want reset", snap.Reconnection)
	}
	if snap.Degraded {
		t.Error("Degraded after successful connect")
	}
}

func TestLedger_CumulativeConnected(t *testing.T) {
	l := NewLedger(3)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l.connected(t0)
	l.disconnected(t0.Add(5 * time.Second))
	l.disconnected(t0.Add(50 * time.Second)) // already disconnected
	l.connected(t0.Add(60 * time.Second))
	l.disconnected(t0.Add(62 * time.Second))

	snap := l.Snapshot()
	if snap.CumulativeConnected != 7*time.Second {
		t.Errorf("CumulativeConnected = %v, want 7s", snap.CumulativeConnected)
	}

	snap.State = StateConnected
	snap.LastConnectedAt = t0.Add(100 * time.Second)
	if got := snap.Uptime(t0.Add(103 * time.Second)); got != 10*time.Second {
		t.Errorf("Uptime = %v, want 10s", got)
	}
}

func TestLedger_Counters(t *testing.T) {
	l := NewLedger(1)
	l.received()
	l.received()
	l.sent()
	l.malformed()
	l.latency(42 * time.Millisecond)
	if n := l.dropped(); n != 1 {
		t.Errorf("dropped() = %d, want 1", n)
	}

	snap := l.Snapshot()
	if snap.EventsReceived != 2 || snap.EventsSent != 1 || snap.MalformedFrames != 1 || snap.EventsDropped != 1 {
		t.Errorf("counters = %+v", snap)
	}
	if !snap.HasLatency || snap.LatencySample != 42*time.Millisecond {
		t.Errorf("latency = %v (%v)", snap.LatencySample, snap.HasLatency)
	}
}
