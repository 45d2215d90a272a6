// Package dispatch fans received events out to consumer bindings.
//
// A binding is one consumer callback attached to one event kind with one
// delivery mode:
//
//   - ModeDirect: every event, as it arrives.
//   - ModeThrottle: at most one delivery per interval. The first event of an
//     idle binding is delivered immediately and opens a window; events inside
//     the window replace each other and the newest is delivered when the
//     window closes, which opens the next window.
//   - ModeDebounce: one delivery once the kind has been quiet for the
//     configured period, carrying the last event of the burst.
//   - ModeAggregate: events are collected for a window that starts with the
//     first event and are reduced to a single delivery. Empty windows
//     deliver nothing.
//   - ModeLatest: the newest event is retained for reads; staleness is
//     computed at read time.
//
// Bindings are independent: each keeps its own timer and buffers, so two
// consumers of the same kind can use different modes. Deliveries of one
// binding never overlap and never reorder. Consumer panics are recovered
// and counted per call.
package dispatch
