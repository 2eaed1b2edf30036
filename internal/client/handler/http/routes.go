// Package http exposes the local client engine over a small JSON API so
// other processes on the device can write records, inspect the pending
// queue and follow sync status.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/middleware"
)

// NewRouter mounts every handler of the local API.
//
// Routes:
//
//	GET    /health
//	GET    /api/status
//	GET    /api/status/stream            websocket, one JSON SyncStatus per message
//	GET    /api/actions
//	POST   /api/actions
//	DELETE /api/actions/{id}
//	POST   /api/sync
//	GET    /api/records/{collection}
//	POST   /api/records/{collection}
//	GET    /api/records/{collection}/{key}
//	PUT    /api/records/{collection}/{key}
//	DELETE /api/records/{collection}/{key}
func NewRouter(
	statusHandler *StatusHandler,
	actionHandler *ActionHandler,
	recordHandler *RecordHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusHandler.Current)
		r.Get("/status/stream", statusHandler.Stream)

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", actionHandler.List)
			r.With(chiMiddleware.AllowContentType("application/json")).Post("/", actionHandler.Enqueue)
			r.Delete("/{id}", actionHandler.Discard)
		})
		r.Post("/sync", actionHandler.Sync)

		r.Route("/records/{collection}", func(r chi.Router) {
			r.Get("/", recordHandler.List)
			r.With(chiMiddleware.AllowContentType("application/json")).Post("/", recordHandler.Create)
			r.Get("/{key}", recordHandler.Get)
			r.With(chiMiddleware.AllowContentType("application/json")).Put("/{key}", recordHandler.Put)
			r.Delete("/{key}", recordHandler.Delete)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
