// Package store keeps a bounded, per-kind history of received events.
//
// Each kind gets its own ring of fixed capacity (default 100, overridable
// per kind). Appending to a full ring evicts the oldest entry. Queries
// return copies in insertion order, oldest first, so callers can hold on
// to results while new events arrive.
package store
