package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openjobspec/ojs-retry-engine/internal/api"
	"github.com/openjobspec/ojs-retry-engine/internal/core"
	"github.com/openjobspec/ojs-retry-engine/internal/metrics"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Engine core.Engine
	// Subscriber enables GET /ojs/v1/events when set.
	Subscriber core.EventSubscriber
	// Health lists dependencies probed by GET /ojs/v1/health.
	Health map[string]api.Pinger
	// Archive enables the archived dead letter endpoints when set.
	Archive api.DeadLetterArchive
	// Backend names the archive/dispatch backend in the manifest.
	Backend string
}

// NewRouter creates and configures the HTTP router with all OJS retry routes.
func NewRouter(deps Deps, logger *slog.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(api.OJSHeaders)
	r.Use(api.RequestLogger(logger))
	r.Use(api.ValidateContentType)

	// Optional API key authentication
	if cfg.APIKey != "" {
		r.Use(api.KeyAuth(cfg.APIKey, "/metrics", "/ojs/v1/health"))
	}

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	backend := deps.Backend
	if backend == "" {
		backend = "memory"
	}

	// Create handlers
	systemHandler := api.NewSystemHandler(backend, deps.Health)
	policyHandler := api.NewPolicyHandler(deps.Engine)
	operationHandler := api.NewOperationHandler(deps.Engine)
	deadLetterHandler := api.NewDeadLetterHandler(deps.Engine)
	poisonHandler := api.NewPoisonHandler(deps.Engine)
	insightHandler := api.NewInsightHandler(deps.Engine)

	// System endpoints
	r.Get("/ojs/manifest", systemHandler.Manifest)
	r.Get("/ojs/v1/health", systemHandler.Health)

	// Policy endpoints
	r.Post("/ojs/v1/policies", policyHandler.Create)
	r.Get("/ojs/v1/policies", policyHandler.List)
	r.Get("/ojs/v1/policies/{id}", policyHandler.Get)
	r.Patch("/ojs/v1/policies/{id}", policyHandler.Update)

	// Operation endpoints
	r.Post("/ojs/v1/operations", operationHandler.Create)
	r.Get("/ojs/v1/operations", operationHandler.List)
	r.Post("/ojs/v1/operations/claim", operationHandler.Claim)
	r.Get("/ojs/v1/operations/{id}", operationHandler.Get)
	r.Post("/ojs/v1/operations/{id}/attempts", operationHandler.RecordAttempt)
	r.Get("/ojs/v1/operations/{id}/attempts", operationHandler.ListAttempts)
	r.Get("/ojs/v1/attempts", operationHandler.ListAttempts)

	// Dead letter endpoints
	r.Get("/ojs/v1/dead-letter", deadLetterHandler.List)
	r.Post("/ojs/v1/dead-letter/{id}/requeue", deadLetterHandler.Requeue)

	// Poison endpoints
	r.Get("/ojs/v1/poison", poisonHandler.List)
	r.Delete("/ojs/v1/poison/{key}", poisonHandler.Delete)

	// Insights
	r.Get("/ojs/v1/storms/{policy_id}/{tenant_id}", insightHandler.Storm)
	r.Get("/ojs/v1/analytics/{policy_id}", insightHandler.Analytics)
	r.Get("/ojs/v1/summary", insightHandler.Summary)

	// Archived dead letters
	if deps.Archive != nil {
		archiveHandler := api.NewArchiveHandler(deps.Archive)
		r.Get("/ojs/v1/archive/dead-letter", archiveHandler.List)
		r.Get("/ojs/v1/archive/dead-letter/{id}", archiveHandler.Get)
	}

	// Real-time events
	if deps.Subscriber != nil {
		r.Get("/ojs/v1/events", api.NewSSEHandler(deps.Subscriber).Events)
	}

	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()
		path := metricRoutePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Observe(duration)
	})
}

func metricRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
