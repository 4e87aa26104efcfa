package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.Health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/repositories", h.Repositories)
		r.Route("/repos/{owner}/{repo}", func(r chi.Router) {
			r.Get("/pulls", h.PullRequests)
			r.Get("/issues", h.Issues)
			r.Get("/summary", h.Summary)
			r.Get("/fourkeys", h.FourKeys)
			r.Get("/blockers", h.Blockers)
			r.Get("/actions", h.Actions)
			r.Get("/freshness", h.Freshness)
			r.Post("/refresh", h.Refresh)
			r.Delete("/cache", h.ClearCache)
		})
	})
	return r
}
