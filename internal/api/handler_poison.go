package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// PoisonHandler handles poison message HTTP endpoints.
type PoisonHandler struct {
	poison core.PoisonManager
}

// NewPoisonHandler creates a new PoisonHandler.
func NewPoisonHandler(poison core.PoisonManager) *PoisonHandler {
	return &PoisonHandler{poison: poison}
}

// List handles GET /ojs/v1/poison
func (h *PoisonHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.poison.ListPoisonMessages(r.Context(), core.PoisonFilter{
		TenantID:        r.URL.Query().Get("tenant_id"),
		QuarantinedOnly: queryBool(r, "quarantined"),
	})
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"poison_messages": records})
}

// Delete handles DELETE /ojs/v1/poison/{key}. Keys embed the error pattern,
// so clients send them path-escaped.
func (h *PoisonHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key, err := poisonKeyParam(r)
	if err != nil {
		WriteOJSError(w, core.NewInvalidRequestError("Malformed poison key.", map[string]any{"key": chi.URLParam(r, "key")}))
		return
	}

	if err := h.poison.ClearPoisonMessage(r.Context(), key); err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"deleted": true, "key": key})
}

// poisonKeyParam returns the decoded {key} segment. chi routes on RawPath
// when the request carried one, so only then is the segment still escaped.
func poisonKeyParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}
	return url.PathUnescape(key)
}
