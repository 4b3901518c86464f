// Package api provides the HTTP and WebSocket surface of the vulnerability dashboard.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/domain"
	"github.com/ashureev/vulndash/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// AlertProvider finds repositories and their Dependabot alerts.
type AlertProvider interface {
	SearchRepos(ctx context.Context, org, query string) (domain.SearchResult, error)
	ListAlerts(ctx context.Context, fullName string) ([]domain.Alert, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires the handler's dependencies. Nil fields disable the routes that need them.
type Options struct {
	Provider AlertProvider

	// Generator produces suggestion text for POST /stream_fix.
	Generator assist.Transport

	// Assist is the transport used by WebSocket assistance sessions.
	Assist assist.Transport

	// Cache is shared by every WebSocket connection and cleared by DELETE /api/cache.
	Cache assist.ResultCache

	Store    Pinger
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics
	Session  assist.SessionConfig

	RateLimit rate.Limit
	RateBurst int

	AllowedOrigins []string
	IsDev          bool

	// SPA serves the frontend for unmatched routes.
	SPA http.Handler

	Logger *slog.Logger
}

// Handler provides the API handlers and their shared dependencies.
type Handler struct {
	opts    Options
	limiter *clientLimiter
	sockets *socketRegistry
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 1
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 5
	}
	return &Handler{
		opts:    opts,
		limiter: newClientLimiter(opts.RateLimit, opts.RateBurst),
		sockets: newSocketRegistry(opts.Logger),
		logger:  opts.Logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ClearCache handles DELETE /api/cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.opts.Cache.Clear(r.Context())
	h.logger.Info("Suggestion cache cleared via API")
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"sockets": h.sockets.Count(),
	}
	if h.opts.Store != nil {
		if err := h.opts.Store.Ping(r.Context()); err != nil {
			h.logger.Warn("Store health check failed", "error", err)
			resp["status"] = "degraded"
			resp["store"] = err.Error()
			JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["store"] = "ok"
	}
	JSON(w, http.StatusOK, resp)
}
