package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// mockArchive implements DeadLetterArchive for testing.
type mockArchive struct {
	getFunc  func(ctx context.Context, id string) (*core.DlqEntry, error)
	listFunc func(ctx context.Context, tenantID string, limit int) ([]*core.DlqEntry, error)
}

func (m *mockArchive) GetDeadLetter(ctx context.Context, id string) (*core.DlqEntry, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, core.NewNotFoundError("Dead letter entry", id)
}

func (m *mockArchive) ListDeadLettersByTenant(ctx context.Context, tenantID string, limit int) ([]*core.DlqEntry, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, tenantID, limit)
	}
	return nil, nil
}

func archiveRouter(archive DeadLetterArchive) http.Handler {
	h := NewArchiveHandler(archive)
	r := chi.NewRouter()
	r.Get("/ojs/v1/archive/dead-letter", h.List)
	r.Get("/ojs/v1/archive/dead-letter/{id}", h.Get)
	return r
}

func TestArchiveList(t *testing.T) {
	var gotTenant string
	var gotLimit int
	h := archiveRouter(&mockArchive{
		listFunc: func(_ context.Context, tenantID string, limit int) ([]*core.DlqEntry, error) {
			gotTenant, gotLimit = tenantID, limit
			return []*core.DlqEntry{{ID: "dlq-1", TenantID: tenantID}}, nil
		},
	})

	w := do(t, h, http.MethodGet, "/ojs/v1/archive/dead-letter?tenant_id=acme&limit=5000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotTenant != "acme" || gotLimit != maxListLimit {
		t.Errorf("archive called with %q/%d", gotTenant, gotLimit)
	}
	var resp struct {
		Entries []*core.DlqEntry `json:"entries"`
	}
	decode(t, w, &resp)
	if len(resp.Entries) != 1 || resp.Entries[0].ID != "dlq-1" {
		t.Errorf("entries = %+v", resp.Entries)
	}
}

func TestArchiveList_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		archive    *mockArchive
		wantStatus int
	}{
		{"missing tenant", "/ojs/v1/archive/dead-letter", &mockArchive{}, http.StatusBadRequest},
		{"empty result", "/ojs/v1/archive/dead-letter?tenant_id=acme", &mockArchive{}, http.StatusOK},
		{"store failure", "/ojs/v1/archive/dead-letter?tenant_id=acme", &mockArchive{
			listFunc: func(context.Context, string, int) ([]*core.DlqEntry, error) {
				return nil, errors.New("dynamodb unavailable")
			},
		}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			archiveRouter(tt.archive).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestArchiveGet(t *testing.T) {
	h := archiveRouter(&mockArchive{
		getFunc: func(_ context.Context, id string) (*core.DlqEntry, error) {
			if id == "dlq-1" {
				return &core.DlqEntry{ID: id}, nil
			}
			return nil, core.NewNotFoundError("Dead letter entry", id)
		},
	})

	if w := do(t, h, http.MethodGet, "/ojs/v1/archive/dead-letter/dlq-1", ""); w.Code != http.StatusOK {
		t.Errorf("found status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/ojs/v1/archive/dead-letter/dlq-2", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", w.Code)
	}
}
