package dashclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/vulndash/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search_repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "acme", r.URL.Query().Get("org"))
		assert.Equal(t, "pay ments", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(domain.SearchResult{
			Repos:   []domain.RepoSummary{{FullName: "acme/payments", Severity: domain.SeverityHigh}},
			Summary: domain.Summary{ReposFound: 1},
		})
	})
	mux.HandleFunc("POST /load_alerts", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["repo"] == "acme/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"failed to load alerts"}`))
			return
		}
		_ = json.NewEncoder(w).Encode([]domain.Alert{{ID: "1", Package: "lodash"}})
	})
	mux.HandleFunc("DELETE /api/cache", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SearchRepos(t *testing.T) {
	c := New(newServer(t).URL+"/", nil)

	result, err := c.SearchRepos(context.Background(), "acme", "pay ments")
	require.NoError(t, err)
	require.Len(t, result.Repos, 1)
	assert.Equal(t, "acme/payments", result.Repos[0].FullName)
	assert.Equal(t, 1, result.Summary.ReposFound)
}

func TestClient_ListAlerts(t *testing.T) {
	c := New(newServer(t).URL, nil)

	alerts, err := c.ListAlerts(context.Background(), "acme/payments")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "acme/payments", alerts[0].RepoName)

	_, err = c.ListAlerts(context.Background(), "acme/broken")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Equal(t, "failed to load alerts", se.Message)
}

func TestClient_ClearCache(t *testing.T) {
	c := New(newServer(t).URL, nil)
	assert.NoError(t, c.ClearCache(context.Background()))
}
