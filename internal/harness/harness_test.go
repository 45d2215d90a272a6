package harness

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/gridpulse/internal/wstest"
)

func newHarness(t *testing.T) (*Harness, *wstest.Server) {
	t.Helper()
	server := wstest.New(wstest.Options{Logger: quietLogger()})
	t.Cleanup(server.Close)

	opts := DefaultOptions()
	opts.Logger = quietLogger()
	return New(server, opts), server
}

func requireSucceeded(t *testing.T, res Result) {
	t.Helper()
	require.Truef(t, res.Succeeded, "%s failed: %s (details %v)", res.Name, res.Message, res.Details)
}

func TestHarness_InjectLatency(t *testing.T) {
	h, _ := newHarness(t)

	res := h.InjectLatency(context.Background(), 30*time.Millisecond, 0, 20)
	requireSucceeded(t, res)
	assert.Equal(t, "inject-latency", res.Name)
	assert.Equal(t, 20, res.Details["delivered"])
	assert.GreaterOrEqual(t, res.Details["minDelayMs"], int64(30))
}

func TestHarness_InjectLatencyWithLoss(t *testing.T) {
	h, _ := newHarness(t)

	res := h.InjectLatency(context.Background(), 10*time.Millisecond, 0.5, 50)
	requireSucceeded(t, res)

	delivered := res.Details["delivered"].(int)
	dropped := res.Details["dropped"].(uint64)
	assert.Equal(t, 50, delivered+int(dropped))
}

func TestHarness_ForcedDisconnect(t *testing.T) {
	h, server := newHarness(t)

	res := h.ForcedDisconnect(context.Background(), 100*time.Millisecond)
	requireSucceeded(t, res)
	assert.Equal(t, 0, res.Details["attempts"])
	assert.Positive(t, res.Details["refusedDuringOutage"])
	assert.GreaterOrEqual(t, server.Handshakes(), 3)
}

func TestHarness_ParallelConnections(t *testing.T) {
	h, server := newHarness(t)

	res := h.ParallelConnections(context.Background(), 3)
	requireSucceeded(t, res)
	assert.Equal(t, 3, server.Handshakes())
	assert.Len(t, server.Commands(), 3)
	assert.Equal(t, 0, server.ConnectionCount())
}

func TestHarness_ParallelConnectionsRejectsZero(t *testing.T) {
	h, _ := newHarness(t)

	res := h.ParallelConnections(context.Background(), 0)
	assert.False(t, res.Succeeded)
}

func TestHarness_InvalidCredential(t *testing.T) {
	h, server := newHarness(t)

	res := h.InvalidCredential(context.Background(), InvalidToken)
	requireSucceeded(t, res)
	assert.Equal(t, "disconnected", res.Details["state"])
	assert.Equal(t, 0, res.Details["attempts"])
	assert.Equal(t, 0, res.Details["dialed"])
	assert.Equal(t, 0, server.Handshakes())
	assert.Equal(t, 0, server.Rejected(), "rejected locally without dialing")
}

func TestHarness_InvalidCredentialRejectedByServer(t *testing.T) {
	server := wstest.New(wstest.Options{Logger: quietLogger(), RejectTokens: []string{"revoked"}})
	defer server.Close()
	h := New(server, Options{Logger: quietLogger()})

	res := h.InvalidCredential(context.Background(), "revoked")
	requireSucceeded(t, res)
	assert.Equal(t, 1, res.Details["attempts"])
	assert.Equal(t, 1, server.Rejected())
	assert.Equal(t, 0, server.Handshakes())
}

func TestHarness_InvalidCredentialAccepted(t *testing.T) {
	h, _ := newHarness(t)

	res := h.InvalidCredential(context.Background(), "perfectly-valid")
	assert.False(t, res.Succeeded)
}

func TestHarness_EventFlood(t *testing.T) {
	h, _ := newHarness(t)

	res := h.EventFlood(context.Background(), 500, 0)
	requireSucceeded(t, res)
	assert.Equal(t, 500, res.Details["direct"])
	assert.Equal(t, 100, res.Details["stored"])
	assert.Equal(t, uint64(400), res.Details["evictions"])
}

func TestHarness_EventFloodRateLimited(t *testing.T) {
	h, _ := newHarness(t)

	res := h.EventFlood(context.Background(), 20, 200)
	requireSucceeded(t, res)
	assert.Equal(t, 20, res.Details["stored"])
	assert.Equal(t, uint64(0), res.Details["evictions"])
	// 20 events at 200/s with a burst of one take at least 95ms.
	assert.GreaterOrEqual(t, res.Details["sendMs"], int64(90))
}

func TestHarness_Run(t *testing.T) {
	h, _ := newHarness(t)

	report := h.Run(context.Background(), Scenarios())
	for _, res := range report.Results {
		assert.Truef(t, res.Succeeded, "%s: %s", res.Name, res.Message)
	}
	assert.True(t, report.Succeeded)
	assert.Empty(t, report.Failed())
	assert.Len(t, report.Results, len(Scenarios()))
	assert.NotEmpty(t, report.RunID)
}

func TestHarness_RunStopsOnCancel(t *testing.T) {
	h, _ := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := h.Run(ctx, Scenarios())
	assert.Empty(t, report.Results)
	assert.True(t, report.Succeeded)
}

func TestResult_JSON(t *testing.T) {
	res := Result{
		Name:      "event-flood",
		Succeeded: false,
		Message:   "boom",
		Details:   map[string]any{"events": 3},
		Duration:  1500 * time.Millisecond,
	}
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"event-flood","succeeded":false,"message":"boom","details":{"events":3},"durationMs":1500}`, string(data))

	report := Report{RunID: "r1", Results: []Result{res, {Name: "ok", Succeeded: true}}}
	assert.Equal(t, []string{"event-flood"}, report.Failed())
}
