package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// OperationHandler handles retry operation HTTP endpoints.
type OperationHandler struct {
	ops core.OperationManager
}

// NewOperationHandler creates a new OperationHandler.
func NewOperationHandler(ops core.OperationManager) *OperationHandler {
	return &OperationHandler{ops: ops}
}

// Create handles POST /ojs/v1/operations. An idempotent hit answers 200 with
// the existing operation instead of 201.
func (h *OperationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req core.EnqueueRequest
	if ojsErr := decodeBody(r, &req); ojsErr != nil {
		WriteOJSError(w, ojsErr)
		return
	}

	op, err := h.ops.Enqueue(r.Context(), &req)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Location", "/ojs/v1/operations/"+op.ID)
	status := http.StatusCreated
	if op.IsExisting {
		status = http.StatusOK
	}
	WriteJSON(w, status, map[string]any{"operation": op})
}

// Get handles GET /ojs/v1/operations/{id}
func (h *OperationHandler) Get(w http.ResponseWriter, r *http.Request) {
	op, err := h.ops.GetOperation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"operation": op})
}

// List handles GET /ojs/v1/operations
func (h *OperationHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ops, err := h.ops.ListOperations(r.Context(), core.OperationFilter{
		PolicyID: q.Get("policy_id"),
		TenantID: q.Get("tenant_id"),
		Status:   q.Get("status"),
		Limit:    queryLimit(r),
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

// RecordAttempt handles POST /ojs/v1/operations/{id}/attempts
func (h *OperationHandler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	var result core.AttemptResult
	if ojsErr := decodeBody(r, &result); ojsErr != nil {
		WriteOJSError(w, ojsErr)
		return
	}

	op, err := h.ops.RecordAttemptResult(r.Context(), chi.URLParam(r, "id"), &result)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"operation": op})
}

type claimRequest struct {
	Limit int `json:"limit"`
}

// Claim handles POST /ojs/v1/operations/claim. Executors that poll instead of
// consuming SQS use it to take due operations.
func (h *OperationHandler) Claim(w http.ResponseWriter, r *http.Request) {
	req := claimRequest{Limit: 10}
	if r.ContentLength != 0 {
		if ojsErr := decodeBody(r, &req); ojsErr != nil {
			WriteOJSError(w, ojsErr)
			return
		}
	}
	if req.Limit <= 0 || req.Limit > maxListLimit {
		WriteOJSError(w, core.NewValidationError("The 'limit' field must be between 1 and 1000.", map[string]any{
			"field":    "limit",
			"received": req.Limit,
		}))
		return
	}

	ops, err := h.ops.ClaimDue(r.Context(), req.Limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	if ops == nil {
		ops = []*core.RetryOperation{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

// ListAttempts handles GET /ojs/v1/attempts and GET /ojs/v1/operations/{id}/attempts
func (h *OperationHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.AttemptFilter{
		OperationID: q.Get("operation_id"),
		PolicyID:    q.Get("policy_id"),
		TenantID:    q.Get("tenant_id"),
		Limit:       queryLimit(r),
	}
	if id := chi.URLParam(r, "id"); id != "" {
		if _, err := h.ops.GetOperation(r.Context(), id); err != nil {
			HandleError(w, err)
			return
		}
		filter.OperationID = id
	}

	attempts, err := h.ops.ListAttempts(r.Context(), filter)
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}
