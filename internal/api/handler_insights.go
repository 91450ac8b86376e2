package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// InsightHandler serves storm status, analytics and the global summary.
type InsightHandler struct {
	insights core.InsightManager
}

// NewInsightHandler creates a new InsightHandler.
func NewInsightHandler(insights core.InsightManager) *InsightHandler {
	return &InsightHandler{insights: insights}
}

// Storm handles GET /ojs/v1/storms/{policy_id}/{tenant_id}
func (h *InsightHandler) Storm(w http.ResponseWriter, r *http.Request) {
	status, err := h.insights.GetStormStatus(r.Context(), chi.URLParam(r, "policy_id"), chi.URLParam(r, "tenant_id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"storm": status})
}

// Analytics handles GET /ojs/v1/analytics/{policy_id}
func (h *InsightHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.insights.GetAnalytics(r.Context(), chi.URLParam(r, "policy_id"), r.URL.Query().Get("tenant_id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"analytics": analytics})
}

// Summary handles GET /ojs/v1/summary
func (h *InsightHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.insights.GetSummary(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"summary": summary})
}
