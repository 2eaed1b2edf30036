// Package http provides HTTP routing for the reference records server.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/declutter/internal/middleware"
)

// NewRouter constructs the HTTP handler serving the records API.
//
// Routes:
//
//	GET    /health
//	GET    /{collection}              optional ?id= filters, repeatable
//	POST   /{collection}              create or replace
//	GET    /{collection}/{id}
//	PATCH  /{collection}/{id}         shallow merge
//	DELETE /{collection}/{id}         soft delete
//
// Middleware chain (applied in order):
//  1. RequestID and Recoverer
//  2. PeerIdentity(requireCert)   records the client certificate CN
//  3. WithRequestLogging(logger)
//  4. AllowContentType("application/json") for requests with a body
func NewRouter(recordHandler *RecordHandler, requireCert bool, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.PeerIdentity(requireCert, "/health"))
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.AllowContentType("application/json"))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/{collection}", func(r chi.Router) {
		r.Get("/", recordHandler.List)
		r.Post("/", recordHandler.Create)
		r.Get("/{id}", recordHandler.Get)
		r.Patch("/{id}", recordHandler.Update)
		r.Delete("/{id}", recordHandler.Delete)
	})

	return r
}
