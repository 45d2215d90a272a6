// Package resource accounts for consumer bindings and estimates the memory
// held by the event store.
//
// The memory figure is a heuristic, not a measurement:
//
//	sum over kinds (ring capacity × average payload bytes)
//	  + listeners × per-listener overhead
//
// which is ringCapacity × averagePayload × kinds when every kind uses the
// default capacity. HealthCheck compares it, the listener count, ring
// saturation and (optionally) the process RSS against configured ceilings
// and reports human-readable warnings.
package resource
