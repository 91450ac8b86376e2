package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// PolicyHandler handles retry policy HTTP endpoints.
type PolicyHandler struct {
	policies core.PolicyManager
}

// NewPolicyHandler creates a new PolicyHandler.
func NewPolicyHandler(policies core.PolicyManager) *PolicyHandler {
	return &PolicyHandler{policies: policies}
}

// Create handles POST /ojs/v1/policies. Omitted fields take the values of
// core.DefaultRetryPolicy.
func (h *PolicyHandler) Create(w http.ResponseWriter, r *http.Request) {
	policy := core.DefaultRetryPolicy()
	if ojsErr := decodeBody(r, &policy); ojsErr != nil {
		WriteOJSError(w, ojsErr)
		return
	}

	created, err := h.policies.CreatePolicy(r.Context(), &policy)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/ojs/v1/policies/"+created.ID)
	WriteJSON(w, http.StatusCreated, map[string]any{"policy": created})
}

// List handles GET /ojs/v1/policies
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.ListPolicies(r.Context(), r.URL.Query().Get("tenant_id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

// Get handles GET /ojs/v1/policies/{id}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.GetPolicy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"policy": policy})
}

// Update handles PATCH /ojs/v1/policies/{id}
func (h *PolicyHandler) Update(w http.ResponseWriter, r *http.Request) {
	var update core.PolicyUpdate
	if ojsErr := decodeBody(r, &update); ojsErr != nil {
		WriteOJSError(w, ojsErr)
		return
	}

	policy, err := h.policies.UpdatePolicy(r.Context(), chi.URLParam(r, "id"), &update)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"policy": policy})
}
