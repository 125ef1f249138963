// Package router sets up all HTTP routes and middleware chains for the
// render cache server.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"rendercache/internal/handlers"
	"rendercache/internal/middleware"
	"rendercache/internal/session"
)

// Handlers are the handler groups mounted by New.
type Handlers struct {
	Public *handlers.Public
	Cache  *handlers.Cache
	// Templates is nil when templates cannot be published at runtime.
	Templates *handlers.Templates
	// Sessions is nil when no session store is configured.
	Sessions *handlers.Sessions
	// Metrics serves /metrics. Nil leaves the route unmounted.
	Metrics http.Handler
}

// New creates and returns the configured Chi router. sessionStore may be
// nil, in which case every visitor is anonymous. adminToken guards the
// maintenance routes; empty leaves them open.
func New(sessionStore *session.Store, adminToken string, h Handlers) chi.Router {
	r := chi.NewRouter()

	// Global middleware, applied to every request.
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	if sessionStore != nil {
		r.Use(middleware.LoadSession(sessionStore))
	}

	r.Get("/health", healthHandler)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	// Maintenance: page and template writes, render cache control.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(adminToken))

		r.Route("/cache", func(r chi.Router) {
			r.Post("/invalidate", h.Cache.Invalidate)
			r.Post("/clear", h.Cache.Clear)
			r.Get("/log", h.Cache.Log)
		})
		r.Put("/pages/{slug}", h.Public.UpdatePage)
		if h.Templates != nil {
			r.Put("/templates/{name}", h.Templates.Publish)
			r.Delete("/templates/{name}", h.Templates.Revert)
		}
	})

	if h.Sessions != nil {
		r.Post("/session", h.Sessions.Create)
		r.Delete("/session", h.Sessions.Destroy)
	}

	// Public pages, rendered through the render cache.
	r.Get("/", h.Public.Homepage)
	r.Get("/{slug}", h.Public.Page)
	r.Get("/{lang}/{slug}", h.Public.LocalizedPage)

	return r
}

// healthHandler returns a simple JSON health check response.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
