package api

import (
	"net/http"

	"github.com/ashureev/vulndash/internal/identity"
	"github.com/ashureev/vulndash/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the chi router with all API routes and middleware.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Heartbeat("/health"))
	r.Use(middleware.CORS(h.opts.AllowedOrigins))
	r.Use(identity.Middleware(h.opts.IsDev))

	r.Get("/search_repos", h.SearchRepos)
	r.Post("/load_alerts", h.LoadAlerts)
	r.Post("/stream_fix", h.StreamFix)
	r.Get("/ws/assist", h.AssistSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Delete("/cache", h.ClearCache)
	})

	if h.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if h.opts.SPA != nil {
		r.Handle("/*", h.opts.SPA)
	}
	return r
}
