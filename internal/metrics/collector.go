package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/gridpulse/internal/clock"
	"github.com/rickgao/gridpulse/internal/connection"
	"github.com/rickgao/gridpulse/internal/dispatch"
	"github.com/rickgao/gridpulse/internal/resource"
	"github.com/rickgao/gridpulse/internal/store"
)

const namespace = "gridpulse"

// Source provides the snapshots exported by the Collector. realtime.Client
// implements it.
type Source interface {
	Metrics() connection.Metrics
	StoreStats() store.Stats
	DispatchStats() dispatch.Stats
	ListenerStats() resource.ListenerStats
	Health() resource.HealthReport
}

var states = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateReconnecting,
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

var (
	connectionState     = desc("connection_state", "Current connection state (1 for the active state)", "state")
	connectionDegraded  = desc("connection_degraded", "Whether consecutive connection failures crossed the degraded threshold")
	connectionLatency   = desc("connection_latency_seconds", "Most recent heartbeat round trip")
	connectionUptime    = desc("connection_uptime_seconds_total", "Cumulative time spent connected")
	reconnectAttempts   = desc("connection_reconnect_attempts", "Consecutive failed connection attempts")
	eventsReceived      = desc("events_received_total", "Inbound events decoded")
	eventsSent          = desc("events_sent_total", "Outbound commands written")
	eventsDropped       = desc("events_dropped_total", "Inbound events dropped because the router lagged")
	malformedFrames     = desc("malformed_frames_total", "Inbound frames that were not valid envelopes")
	outboundQueued      = desc("outbound_queued", "Commands waiting for a connection")
	outboundEvicted     = desc("outbound_evicted_total", "Queued commands evicted by newer ones")
	storeEvents         = desc("store_events", "Events retained per kind", "kind")
	storeCapacity       = desc("store_capacity", "Ring capacity per kind", "kind")
	storePayloadBytes   = desc("store_payload_bytes", "Payload bytes retained per kind", "kind")
	storeEvictions      = desc("store_evictions_total", "Events evicted per kind", "kind")
	dispatchPublished   = desc("dispatch_published_total", "Events published to the dispatcher")
	dispatchDelivered   = desc("dispatch_delivered_total", "Handler invocations")
	dispatchPanics      = desc("dispatch_consumer_panics_total", "Handler panics recovered")
	dispatchDecodeErrs  = desc("dispatch_decode_errors_total", "Typed handler payload decode failures")
	dispatchBindings    = desc("dispatch_bindings", "Active bindings by mode", "mode")
	listeners           = desc("listeners", "Registered listeners by kind", "kind")
	healthy             = desc("healthy", "Resource health verdict (1 healthy, 0 unhealthy)")
	memoryEstimateBytes = desc("memory_estimate_bytes", "Estimated memory held by stored events and listeners")
)

// Collector is a prometheus.Collector over a Source.
type Collector struct {
	src   Source
	clock clock.Clock
}

// NewCollector creates a Collector. A nil clock uses the wall clock.
func NewCollector(src Source, clk clock.Clock) *Collector {
	return &Collector{src: src, clock: clock.OrReal(clk)}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		connectionState, connectionDegraded, connectionLatency, connectionUptime,
		reconnectAttempts, eventsReceived, eventsSent, eventsDropped,
		malformedFrames, outboundQueued, outboundEvicted, storeEvents,
		storeCapacity, storePayloadBytes, storeEvictions, dispatchPublished,
		dispatchDelivered, dispatchPanics, dispatchDecodeErrs, dispatchBindings,
		listeners, healthy, memoryEstimateBytes,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectConnection(ch)
	c.collectStore(ch)
	c.collectDispatch(ch)
	c.collectResources(ch)
}

func (c *Collector) collectConnection(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()

	for _, s := range states {
		ch <- prometheus.MustNewConstMetric(connectionState, prometheus.GaugeValue, boolValue(m.State == s), s.String())
	}
	ch <- prometheus.MustNewConstMetric(connectionDegraded, prometheus.GaugeValue, boolValue(m.Degraded))
	if m.HasLatency {
		ch <- prometheus.MustNewConstMetric(connectionLatency, prometheus.GaugeValue, m.LatencySample.Seconds())
	}
	ch <- prometheus.MustNewConstMetric(connectionUptime, prometheus.CounterValue, m.Uptime(c.clock.Now()).Seconds())
	ch <- prometheus.MustNewConstMetric(reconnectAttempts, prometheus.GaugeValue, float64(m.Reconnection.AttemptCount))
	ch <- prometheus.MustNewConstMetric(eventsReceived, prometheus.CounterValue, float64(m.EventsReceived))
	ch <- prometheus.MustNewConstMetric(eventsSent, prometheus.CounterValue, float64(m.EventsSent))
	ch <- prometheus.MustNewConstMetric(eventsDropped, prometheus.CounterValue, float64(m.EventsDropped))
	ch <- prometheus.MustNewConstMetric(malformedFrames, prometheus.CounterValue, float64(m.MalformedFrames))
	ch <- prometheus.MustNewConstMetric(outboundQueued, prometheus.GaugeValue, float64(m.OutboundQueued))
	ch <- prometheus.MustNewConstMetric(outboundEvicted, prometheus.CounterValue, float64(m.OutboundEvicted))
}

func (c *Collector) collectStore(ch chan<- prometheus.Metric) {
	st := c.src.StoreStats()
	for kind, ks := range st.Kinds {
		ch <- prometheus.MustNewConstMetric(storeEvents, prometheus.GaugeValue, float64(ks.Count), kind)
		ch <- prometheus.MustNewConstMetric(storeCapacity, prometheus.GaugeValue, float64(ks.Capacity), kind)
		ch <- prometheus.MustNewConstMetric(storePayloadBytes, prometheus.GaugeValue, float64(ks.PayloadBytes), kind)
		ch <- prometheus.MustNewConstMetric(storeEvictions, prometheus.CounterValue, float64(ks.Evictions), kind)
	}
}

func (c *Collector) collectDispatch(ch chan<- prometheus.Metric) {
	st := c.src.DispatchStats()
	ch <- prometheus.MustNewConstMetric(dispatchPublished, prometheus.CounterValue, float64(st.Published))
	ch <- prometheus.MustNewConstMetric(dispatchDelivered, prometheus.CounterValue, float64(st.Delivered))
	ch <- prometheus.MustNewConstMetric(dispatchPanics, prometheus.CounterValue, float64(st.ConsumerPanics))
	ch <- prometheus.MustNewConstMetric(dispatchDecodeErrs, prometheus.CounterValue, float64(st.DecodeErrors))
	for mode, n := range st.ByMode {
		ch <- prometheus.MustNewConstMetric(dispatchBindings, prometheus.GaugeValue, float64(n), mode)
	}
}

func (c *Collector) collectResources(ch chan<- prometheus.Metric) {
	ls := c.src.ListenerStats()
	for kind, n := range ls.ByKind {
		ch <- prometheus.MustNewConstMetric(listeners, prometheus.GaugeValue, float64(n), kind)
	}

	report := c.src.Health()
	ch <- prometheus.MustNewConstMetric(healthy, prometheus.GaugeValue, boolValue(report.Healthy))
	ch <- prometheus.MustNewConstMetric(memoryEstimateBytes, prometheus.GaugeValue, float64(report.EstimatedBytes))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
