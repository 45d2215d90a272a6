// Package metrics exports gridpulse state to Prometheus.
//
// The Collector reads snapshots from a Source on every scrape, so values
// are never stale and nothing polls in the background:
//
//   - connection state, degraded flag, latency, uptime and reconnect attempts
//   - inbound/outbound event counters, malformed frames, outbound queue depth
//   - per-kind store occupancy, payload bytes and evictions
//   - dispatcher throughput, consumer panics and bindings by mode
//   - listener counts and the resource health verdict
//
// Handler serves a dedicated registry; HealthHandler serves the resource
// health report as JSON.
package metrics
