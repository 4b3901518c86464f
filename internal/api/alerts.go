package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/vulndash/internal/domain"
)

// SearchRepos handles GET /search_repos?org=&q=.
func (h *Handler) SearchRepos(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	query := r.URL.Query().Get("q")
	empty := domain.SearchResult{Repos: []domain.RepoSummary{}}

	if org == "" || query == "" || h.opts.Provider == nil {
		JSON(w, http.StatusOK, empty)
		return
	}

	result, err := h.opts.Provider.SearchRepos(r.Context(), org, query)
	if err != nil {
		h.logger.Error("Repository search failed", "org", org, "query", query, "error", err)
		Error(w, http.StatusInternalServerError, "failed to search repositories")
		return
	}
	if result.Repos == nil {
		result.Repos = []domain.RepoSummary{}
	}
	JSON(w, http.StatusOK, result)
}

type loadAlertsRequest struct {
	Repo string `json:"repo"`
}

// LoadAlerts handles POST /load_alerts.
func (h *Handler) LoadAlerts(w http.ResponseWriter, r *http.Request) {
	var req loadAlertsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Repo == "" || h.opts.Provider == nil {
		JSON(w, http.StatusOK, []domain.Alert{})
		return
	}

	alerts, err := h.opts.Provider.ListAlerts(r.Context(), req.Repo)
	if err != nil {
		h.logger.Error("Loading alerts failed", "repo", req.Repo, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	JSON(w, http.StatusOK, alerts)
}
