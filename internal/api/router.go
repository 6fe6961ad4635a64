package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/stencil/internal/workspace"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *workspace.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/status", h.Status)

	r.Get("/templates", h.ListTemplates)
	r.Get("/templates/blocks", h.TemplateBlocks)
	r.Get("/templates/*", h.GetTemplate)

	r.Get("/outputs", h.ListOutputs)
	r.Post("/generate", h.Generate)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
