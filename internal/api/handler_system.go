package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthResponse is the body of GET /ojs/v1/health.
type HealthResponse struct {
	Status        string                  `json:"status"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Dependencies  map[string]DependencyOK `json:"dependencies,omitempty"`
}

// DependencyOK reports one dependency probe.
type DependencyOK struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// SystemHandler handles system-related HTTP endpoints.
type SystemHandler struct {
	deps    map[string]Pinger
	backend string
	started time.Time
}

// NewSystemHandler creates a new SystemHandler. deps are probed by Health.
func NewSystemHandler(backend string, deps map[string]Pinger) *SystemHandler {
	return &SystemHandler{deps: deps, backend: backend, started: time.Now()}
}

// Manifest handles GET /ojs/manifest
func (h *SystemHandler) Manifest(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"specversion": core.OJSVersion,
		"implementation": map[string]any{
			"name":    "ojs-retry-engine",
			"version": core.Version,
			"backend": h.backend,
		},
		"capabilities": []string{
			"retry-policies", "backoff-exponential", "backoff-linear",
			"backoff-fibonacci", "backoff-constant", "backoff-decorrelated-jitter",
			"idempotency", "dead-letter", "poison-detection", "storm-guard",
			"analytics", "events",
		},
	})
}

// Health handles GET /ojs/v1/health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       core.OJSVersion,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) > 0 {
		resp.Dependencies = make(map[string]DependencyOK, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		start := time.Now()
		err := h.deps[name].Ping(ctx)
		cancel()

		dep := DependencyOK{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			dep.Status = "error"
			dep.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Dependencies[name] = dep
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, resp)
}
