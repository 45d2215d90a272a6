package resource

import (
	"os"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/rickgao/gridpulse/internal/store"
)

// HealthReport is the result of HealthCheck.
type HealthReport struct {
	Healthy  bool
	Warnings []string

	Listeners      int
	EstimatedBytes int64

	// SaturatedKinds lists kinds whose ring has been full for at least the
	// saturation window.
	SaturatedKinds []string

	// ProcessRSSBytes is zero when the RSS check is disabled or the sample
	// failed.
	ProcessRSSBytes uint64

	CheckedAt time.Time
}

// HealthCheck evaluates every threshold. Warnings are ordered: listeners,
// memory, saturation (by kind), process RSS.
func (m *Manager) HealthCheck() HealthReport {
	now := m.clock.Now()
	listeners := m.ListenerStats().Total

	var st store.Stats
	if m.src != nil {
		st = m.src.Stats()
	}

	r := HealthReport{
		Listeners:      listeners,
		EstimatedBytes: m.estimate(st, listeners),
		CheckedAt:      now,
	}
	p := m.printer

	if listeners > m.cfg.MaxListeners {
		r.Warnings = append(r.Warnings, p.Sprintf(
			"%d listeners registered, limit is %d", listeners, m.cfg.MaxListeners))
	}

	if r.EstimatedBytes > m.cfg.MaxMemoryBytes {
		r.Warnings = append(r.Warnings, p.Sprintf(
			"estimated memory %d bytes exceeds limit of %d bytes", r.EstimatedBytes, m.cfg.MaxMemoryBytes))
	}

	for kind, ks := range st.Kinds {
		if ks.FullSince.IsZero() {
			continue
		}
		if now.Sub(ks.FullSince) >= m.cfg.SaturationWindow {
			r.SaturatedKinds = append(r.SaturatedKinds, kind)
		}
	}
	sort.Strings(r.SaturatedKinds)
	for _, kind := range r.SaturatedKinds {
		ks := st.Kinds[kind]
		r.Warnings = append(r.Warnings, p.Sprintf(
			"ring buffer for %q has been at capacity (%d) for %v",
			kind, ks.Capacity, now.Sub(ks.FullSince).Truncate(time.Millisecond)))
	}

	if m.cfg.MaxProcessRSSBytes > 0 && m.rss != nil {
		rss, err := m.rss()
		if err != nil {
			m.logger.Debug("rss sample failed", "error", err)
		} else {
			r.ProcessRSSBytes = rss
			if rss > m.cfg.MaxProcessRSSBytes {
				r.Warnings = append(r.Warnings, p.Sprintf(
					"process RSS %d bytes exceeds limit of %d bytes", rss, m.cfg.MaxProcessRSSBytes))
			}
		}
	}

	r.Healthy = len(r.Warnings) == 0
	m.logTransition(r)
	return r
}

func (m *Manager) logTransition(r HealthReport) {
	m.mu.Lock()
	changed := m.lastHealthy != r.Healthy
	m.lastHealthy = r.Healthy
	m.mu.Unlock()

	if !changed {
		return
	}
	if r.Healthy {
		m.logger.Info("resources healthy again",
			"listeners", r.Listeners,
			"estimated_bytes", r.EstimatedBytes,
		)
		return
	}
	m.logger.Warn("resources unhealthy",
		"warnings", r.Warnings,
		"listeners", r.Listeners,
		"estimated_bytes", r.EstimatedBytes,
	)
}

func processRSS() (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
