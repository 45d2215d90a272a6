package store

import "time"

// KindStats describes one kind's ring.
type KindStats struct {
	Count        int
	Capacity     int
	PayloadBytes int64
	Evictions    uint64

	// FullSince is when the ring last reached capacity; zero while it has
	// room.
	FullSince time.Time
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Kinds           map[string]KindStats
	TotalEvents     int
	TotalBytes      int64
	DefaultCapacity int
}

// AveragePayloadBytes returns the mean payload size across every retained
// event, or 0 when the store is empty.
func (s Stats) AveragePayloadBytes() int64 {
	if s.TotalEvents == 0 {
		return 0
	}
	return s.TotalBytes / int64(s.TotalEvents)
}

// Stats returns per-kind counts and sizes.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Kinds:           make(map[string]KindStats, len(s.kinds)),
		DefaultCapacity: s.cfg.Capacity,
	}
	for k, kb := range s.kinds {
		st.Kinds[k] = KindStats{
			Count:        kb.ring.Len(),
			Capacity:     kb.ring.Cap(),
			PayloadBytes: kb.bytes,
			Evictions:    kb.ring.Evictions(),
			FullSince:    kb.fullSince,
		}
		st.TotalEvents += kb.ring.Len()
		st.TotalBytes += kb.bytes
	}
	return st
}
