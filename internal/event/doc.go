// Package event defines the wire envelope, the stored event value and the
// typed catalogue of event and command kinds exchanged with the telemetry
// server.
//
// Every frame on the wire is a JSON object:
//
//	{"kind": "device.reading", "payload": {...}}
//
// Kind[P] ties a kind name to its payload struct so subscribers decode into
// a concrete type instead of poking at untyped maps:
//
//	readings := dispatch.Throttle(d, event.DeviceReading, 50*time.Millisecond,
//		func(r event.Reading, ev event.Event) { ... })
package event
