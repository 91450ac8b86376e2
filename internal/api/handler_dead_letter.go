package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// DeadLetterHandler handles dead letter queue HTTP endpoints.
type DeadLetterHandler struct {
	dlq core.DeadLetterManager
}

// NewDeadLetterHandler creates a new DeadLetterHandler.
func NewDeadLetterHandler(dlq core.DeadLetterManager) *DeadLetterHandler {
	return &DeadLetterHandler{dlq: dlq}
}

// List handles GET /ojs/v1/dead-letter
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.dlq.ListDlq(r.Context(), core.DlqFilter{
		TenantID:        r.URL.Query().Get("tenant_id"),
		IncludeRequeued: queryBool(r, "include_requeued"),
		Limit:           queryLimit(r),
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Requeue handles POST /ojs/v1/dead-letter/{id}/requeue
func (h *DeadLetterHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	op, err := h.dlq.RequeueDlqEntry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"operation": op})
}
