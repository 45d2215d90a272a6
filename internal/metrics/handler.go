package metrics

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/gridpulse/internal/version"
)

// NewRegistry returns a registry holding the Collector plus the Go runtime
// and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// HealthStatus is the body served by HealthHandler.
type HealthStatus struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Connection     string    `json:"connection"`
	Degraded       bool      `json:"degraded"`
	Warnings       []string  `json:"warnings,omitempty"`
	Listeners      int       `json:"listeners"`
	EstimatedBytes int64     `json:"estimatedBytes"`
	Version        string    `json:"version"`
}

// HealthHandler returns an HTTP handler for the /health endpoint. It
// answers 503 when the resource report is unhealthy.
func HealthHandler(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := src.Health()
		conn := src.Metrics()

		health := HealthStatus{
			Status:         "healthy",
			Timestamp:      report.CheckedAt,
			Connection:     conn.State.String(),
			Degraded:       conn.Degraded,
			Warnings:       report.Warnings,
			Listeners:      report.Listeners,
			EstimatedBytes: report.EstimatedBytes,
			Version:        version.Version,
		}

		statusCode := http.StatusOK
		if !report.Healthy {
			health.Status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	}
}
