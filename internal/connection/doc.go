// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one websocket connection to the telemetry server
//   - Tracks the connection state (Disconnected, Connecting, Connected,
//     Reconnecting) and fans transitions out to observers in order
//   - Reconnects with capped exponential backoff plus positive jitter
//   - Detects silent peers with a ping/ack heartbeat
//   - Queues outbound commands while offline (bounded, oldest evicted) and
//     flushes them in order on reconnect
//   - Records latency, uptime, event counts and reconnection attempts in a
//     Ledger
//   - Decodes inbound frames into events for the routing layer
package connection
