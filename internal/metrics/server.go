package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/tickvault/internal/version"
)

// HealthCheck reports a component's health. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Health is the /health response body.
type Health struct {
	Status     string            `json:"status"`
	Version    version.Info      `json:"version"`
	Components map[string]string `json:"components"`
}

// NewMux serves Prometheus metrics on path and a JSON health summary on /health.
func NewMux(path string, checks map[string]HealthCheck) *http.ServeMux {
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := Health{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]string, len(checks)),
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components[name] = err.Error()
				continue
			}
			health.Components[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
	return mux
}
