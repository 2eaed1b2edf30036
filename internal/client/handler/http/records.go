package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atinyakov/declutter/internal/models"
	"github.com/atinyakov/declutter/internal/queue"
	"github.com/atinyakov/declutter/internal/records"
	"github.com/atinyakov/declutter/internal/store"
)

// RecordService reads and writes local records.
type RecordService interface {
	Create(ctx context.Context, c models.Collection, rec models.Record) (models.Record, error)
	Update(ctx context.Context, c models.Collection, key string, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, c models.Collection, key string) error
	Get(ctx context.Context, c models.Collection, key string) (models.Record, bool, error)
	List(ctx context.Context, c models.Collection) ([]models.Record, error)
}

// RecordHandler handles /api/records.
type RecordHandler struct {
	Records RecordService
}

// List handles GET /api/records/{collection}.
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}
	recs, err := h.Records.List(r.Context(), c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// Get handles GET /api/records/{collection}/{key}.
func (h *RecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}
	rec, found, err := h.Records.Get(r.Context(), c, chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create handles POST /api/records/{collection}.
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}
	rec, ok := decodeBody(w, r)
	if !ok {
		return
	}
	created, err := h.Records.Create(r.Context(), c, rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Put handles PUT /api/records/{collection}/{key}. An existing record is
// patched, otherwise a new one is created under key.
func (h *RecordHandler) Put(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}
	rec, ok := decodeBody(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	_, exists, err := h.Records.Get(r.Context(), c, key)
	if err != nil {
		writeError(w, err)
		return
	}

	if exists {
		updated, err := h.Records.Update(r.Context(), c, key, rec)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
		return
	}

	rec[c.KeyField()] = key
	created, err := h.Records.Create(r.Context(), c, rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Delete handles DELETE /api/records/{collection}/{key}.
func (h *RecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	c, ok := collectionParam(w, r)
	if !ok {
		return
	}
	if err := h.Records.Delete(r.Context(), c, chi.URLParam(r, "key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func collectionParam(w http.ResponseWriter, r *http.Request) (models.Collection, bool) {
	c := models.Collection(chi.URLParam(r, "collection"))
	if !c.Syncable() {
		http.Error(w, "unknown collection", http.StatusNotFound)
		return "", false
	}
	return c, true
}

func decodeBody(w http.ResponseWriter, r *http.Request) (models.Record, bool) {
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
	case errors.Is(err, records.ErrInvalidCollection),
		errors.Is(err, records.ErrMissingKey),
		errors.Is(err, store.ErrMissingKey),
		errors.Is(err, store.ErrUnknownCollection),
		errors.Is(err, queue.ErrInvalidAction):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
