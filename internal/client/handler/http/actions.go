package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atinyakov/declutter/internal/models"
	"github.com/atinyakov/declutter/internal/queue"
	"github.com/atinyakov/declutter/internal/remote"
	"github.com/atinyakov/declutter/internal/syncer"
)

// ActionQueue is the pending action log as seen by the API.
type ActionQueue interface {
	ListPending(ctx context.Context) ([]models.PendingAction, error)
	Enqueue(ctx context.Context, typ models.ActionType, c models.Collection, payload models.Record) (models.PendingAction, error)
	Discard(ctx context.Context, id string) error
}

// Drainer runs a sync pass.
type Drainer interface {
	Drain(ctx context.Context) (syncer.Report, error)
}

// ActionHandler handles the pending queue and manual sync endpoints.
type ActionHandler struct {
	Queue  ActionQueue
	Syncer Drainer
}

// List handles GET /api/actions.
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	actions, err := h.Queue.ListPending(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// Enqueue handles POST /api/actions with {"type", "collection", "payload"}.
func (h *ActionHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type       models.ActionType `json:"type"`
		Collection models.Collection `json:"collection"`
		Payload    json.RawMessage   `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var payload models.Record
	if len(req.Payload) > 0 {
		rec, err := models.DecodeRecord(req.Payload)
		if err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		payload = rec
	}

	action, err := h.Queue.Enqueue(r.Context(), req.Type, req.Collection, payload)
	if errors.Is(err, queue.ErrInvalidAction) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

// Discard handles DELETE /api/actions/{id}.
func (h *ActionHandler) Discard(w http.ResponseWriter, r *http.Request) {
	err := h.Queue.Discard(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, queue.ErrActionNotFound) {
		http.Error(w, "action not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type outcomeResponse struct {
	ID         string            `json:"id"`
	Type       models.ActionType `json:"type"`
	Collection models.Collection `json:"collection"`
	Delivered  bool              `json:"delivered"`
	Reason     string            `json:"reason,omitempty"`
	StatusCode int               `json:"statusCode,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type syncResponse struct {
	Skipped   string            `json:"skipped,omitempty"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Outcomes  []outcomeResponse `json:"outcomes"`
}

// Sync handles POST /api/sync. It answers 409 while another drain runs.
func (h *ActionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	report, err := h.Syncer.Drain(r.Context())
	if errors.Is(err, syncer.ErrDrainInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := syncResponse{
		Skipped:   string(report.Skipped),
		Succeeded: report.Succeeded(),
		Failed:    report.Failed(),
		Outcomes:  make([]outcomeResponse, 0, len(report.Outcomes)),
	}
	for _, o := range report.Outcomes {
		resp.Outcomes = append(resp.Outcomes, describe(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func describe(o syncer.Outcome) outcomeResponse {
	out := outcomeResponse{
		ID:         o.Action.ID,
		Type:       o.Action.Type,
		Collection: o.Action.Collection,
		Delivered:  o.Err == nil,
	}
	if o.Err == nil {
		return out
	}
	out.Error = o.Err.Error()
	out.Reason = o.Reason()

	var rejected *remote.RejectedError
	if errors.As(o.Err, &rejected) {
		out.StatusCode = rejected.StatusCode
	}
	return out
}
