package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atinyakov/declutter/internal/models"
	"github.com/atinyakov/declutter/internal/service"
)

// RecordService defines the operations required by the RecordHandler.
type RecordService interface {
	Create(ctx context.Context, c models.Collection, rec models.Record) (models.Record, error)
	Update(ctx context.Context, c models.Collection, id string, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, c models.Collection, id string) error
	Get(ctx context.Context, c models.Collection, id string) (models.Record, error)
	List(ctx context.Context, c models.Collection, ids []string) ([]models.Record, error)
}

// RecordHandler handles HTTP requests for collection records.
type RecordHandler struct {
	RecordService RecordService
}

// Create handles POST /{collection}.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	created, err := h.RecordService.Create(r.Context(), collection(r), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Update handles PATCH /{collection}/{id}.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	patch, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	updated, err := h.RecordService.Update(r.Context(), collection(r), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /{collection}/{id}. The request body is ignored.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.RecordService.Delete(r.Context(), collection(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /{collection}/{id}.
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.RecordService.Get(r.Context(), collection(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// List handles GET /{collection}.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.RecordService.List(r.Context(), collection(r), r.URL.Query()["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func collection(r *http.Request) models.Collection {
	return models.Collection(chi.URLParam(r, "collection"))
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (models.Record, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return nil, false
	}
	rec, err := models.DecodeRecord(data)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return nil, false
	}
	return rec, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrUnknownCollection):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrMissingID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
