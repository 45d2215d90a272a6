// Package ring provides the two circular buffers used across gridpulse:
//
//   - Ring: fixed capacity, evicts the oldest entry when full. Backs the
//     per-kind event history and the outbound command queue.
//   - Queue: unbounded, doubles its backing array when it fills up and
//     supports a blocking Pop. Feeds the state-change notifier so observers
//     never miss a transition.
//
// Both keep entries in insertion order.
package ring
