package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// DeadLetterArchive is the durable copy of dead letter entries.
type DeadLetterArchive interface {
	GetDeadLetter(ctx context.Context, id string) (*core.DlqEntry, error)
	ListDeadLettersByTenant(ctx context.Context, tenantID string, limit int) ([]*core.DlqEntry, error)
}

// ArchiveHandler serves archived dead letter entries. Unlike the live DLQ it
// survives restarts.
type ArchiveHandler struct {
	archive DeadLetterArchive
}

// NewArchiveHandler creates a new ArchiveHandler.
func NewArchiveHandler(archive DeadLetterArchive) *ArchiveHandler {
	return &ArchiveHandler{archive: archive}
}

// List handles GET /ojs/v1/archive/dead-letter?tenant_id=
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		WriteOJSError(w, core.NewInvalidRequestError("The 'tenant_id' query parameter is required.", nil))
		return
	}

	entries, err := h.archive.ListDeadLettersByTenant(r.Context(), tenantID, queryLimit(r))
	if err != nil {
		HandleError(w, err)
		return
	}
	if entries == nil {
		entries = []*core.DlqEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Get handles GET /ojs/v1/archive/dead-letter/{id}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.archive.GetDeadLetter(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entry": entry})
}
