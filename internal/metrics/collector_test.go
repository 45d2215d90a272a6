package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/connection"
	"github.com/rickgao/gridpulse/internal/dispatch"
	"github.com/rickgao/gridpulse/internal/resource"
	"github.com/rickgao/gridpulse/internal/store"
)

type fakeSource struct {
	conn   connection.Metrics
	store  store.Stats
	disp   dispatch.Stats
	lst    resource.ListenerStats
	report resource.HealthReport
}

func (f *fakeSource) Metrics() connection.Metrics           { return f.conn }
func (f *fakeSource) StoreStats() store.Stats               { return f.store }
func (f *fakeSource) DispatchStats() dispatch.Stats         { return f.disp }
func (f *fakeSource) ListenerStats() resource.ListenerStats { return f.lst }
func (f *fakeSource) Health() resource.HealthReport         { return f.report }

func newFakeSource(now time.Time) *fakeSource {
	return &fakeSource{
		conn: connection.Metrics{
			State:               connection.StateConnected,
			LastConnectedAt:     now.Add(-30 * time.Second),
			CumulativeConnected: 90 * time.Second,
			EventsReceived:      42,
			EventsSent:          7,
			MalformedFrames:     1,
			LatencySample:       250 * time.Millisecond,
			HasLatency:          true,
		},
		store: store.Stats{Kinds: map[string]store.KindStats{
			"device.reading": {Count: 100, Capacity: 100, PayloadBytes: 6400, Evictions: 12},
		}},
		disp: dispatch.Stats{Published: 42, Delivered: 40, ByMode: map[string]int{"throttle": 2}},
		lst:  resource.ListenerStats{Total: 2, ByKind: map[string]int{"device.reading": 2}},
		report: resource.HealthReport{
			Healthy:        true,
			Listeners:      2,
			EstimatedBytes: 7424,
			CheckedAt:      now,
		},
	}
}

func TestCollector(t *testing.T) {
	clk := clock.NewManual(time.Time{})
	src := newFakeSource(clk.Now())
	c := NewCollector(src, clk)

	expected := `
# HELP gridpulse_connection_state Current connection state (1 for the active state)
# TYPE gridpulse_connection_state gauge
gridpulse_connection_state{state="connected"} 1
gridpulse_connection_state{state="connecting"} 0
gridpulse_connection_state{state="disconnected"} 0
gridpulse_connection_state{state="reconnecting"} 0
# HELP gridpulse_connection_uptime_seconds_total Cumulative time spent connected
# TYPE gridpulse_connection_uptime_seconds_total counter
gridpulse_connection_uptime_seconds_total 120
# HELP gridpulse_events_received_total Inbound events decoded
# TYPE gridpulse_events_received_total counter
gridpulse_events_received_total 42
# HELP gridpulse_store_evictions_total Events evicted per kind
# TYPE gridpulse_store_evictions_total counter
gridpulse_store_evictions_total{kind="device.reading"} 12
# HELP gridpulse_dispatch_bindings Active bindings by mode
# TYPE gridpulse_dispatch_bindings gauge
gridpulse_dispatch_bindings{mode="throttle"} 2
# HELP gridpulse_healthy Resource health verdict (1 healthy, 0 unhealthy)
# TYPE gridpulse_healthy gauge
gridpulse_healthy 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"gridpulse_connection_state",
		"gridpulse_connection_uptime_seconds_total",
		"gridpulse_events_received_total",
		"gridpulse_store_evictions_total",
		"gridpulse_dispatch_bindings",
		"gridpulse_healthy",
	)
	assert.NoError(t, err)
}

func TestCollector_OmitsLatencyUntilSampled(t *testing.T) {
	src := newFakeSource(time.Now())
	src.conn.HasLatency = false
	c := NewCollector(src, nil)

	assert.Equal(t, 0, testutil.CollectAndCount(c, "gridpulse_connection_latency_seconds"))

	src.conn.HasLatency = true
	assert.Equal(t, 1, testutil.CollectAndCount(c, "gridpulse_connection_latency_seconds"))
}

func TestCollector_Lint(t *testing.T) {
	c := NewCollector(newFakeSource(time.Now()), nil)
	problems, err := testutil.CollectAndLint(c)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestHandler(t *testing.T) {
	reg := NewRegistry(NewCollector(newFakeSource(time.Now()), nil))

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "gridpulse_events_sent_total 7")
	assert.Contains(t, body, "go_goroutines")
}

func TestHealthHandler(t *testing.T) {
	src := newFakeSource(time.Now())

	w := httptest.NewRecorder()
	HealthHandler(src)(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Connection)
	assert.Equal(t, 2, health.Listeners)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	src := newFakeSource(time.Now())
	src.report.Healthy = false
	src.report.Warnings = []string{"listener count 600 exceeds limit of 500"}

	w := httptest.NewRecorder()
	HealthHandler(src)(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "unhealthy", health.Status)
	assert.Len(t, health.Warnings, 1)
}
