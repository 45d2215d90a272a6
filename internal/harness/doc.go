// Package harness runs adverse-condition scenarios against the realtime
// client: injected latency and packet loss, a forced outage, parallel
// connections, an invalid credential and an event flood.
//
// Scenarios drive an in-process wstest.Server and report a Result that
// serializes as {name, succeeded, message, details, durationMs}. They are
// deterministic for a given seed: packet loss draws from a seeded PCG.
package harness
