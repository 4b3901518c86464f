//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/cache"
	"github.com/ashureev/vulndash/internal/domain"
	"github.com/ashureev/vulndash/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	result domain.SearchResult
	alerts map[string][]domain.Alert
	err    error
}

func (f *fakeProvider) SearchRepos(context.Context, string, string) (domain.SearchResult, error) {
	return f.result, f.err
}

func (f *fakeProvider) ListAlerts(_ context.Context, fullName string) ([]domain.Alert, error) {
	return f.alerts[fullName], f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

// chunkGenerator yields chunks and then err, counting calls.
type chunkGenerator struct {
	mu     sync.Mutex
	calls  int
	chunks []string
	err    error
}

func (g *chunkGenerator) Suggest(ctx context.Context, _ assist.SuggestionRequest) iter.Seq2[string, error] {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return func(yield func(string, error) bool) {
		for _, c := range g.chunks {
			if ctx.Err() != nil || !yield(c, nil) {
				return
			}
		}
		if g.err != nil {
			yield("", g.err)
		}
	}
}

func (g *chunkGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func testAlert() domain.Alert {
	return domain.Alert{
		ID:            "42",
		Vulnerability: "Prototype pollution in lodash",
		Package:       "lodash",
		Severity:      domain.SeverityHigh,
		PatchedIn:     "4.17.21",
		ApplyFixIn:    "package.json",
	}
}

func newTestHandler(t *testing.T, opts Options) (*Handler, *cache.Cache) {
	t.Helper()
	c := cache.New(store.NewMemory())
	if opts.Cache == nil {
		opts.Cache = c
	}
	opts.IsDev = true
	opts.AllowedOrigins = []string{"*"}
	return NewHandler(opts), c
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestSearchRepos(t *testing.T) {
	provider := &fakeProvider{result: domain.SearchResult{
		Repos: []domain.RepoSummary{{FullName: "acme/payments", Severity: domain.SeverityCritical}},
	}}
	h, _ := newTestHandler(t, Options{Provider: provider})
	router := h.Router()

	t.Run("missing params return empty result", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search_repos?org=acme", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"repos":[],"summary":{"repos_found":0,"critical":0,"high":0,"medium":0,"low":0}}`, w.Body.String())
	})

	t.Run("provider result", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search_repos?org=acme&q=pay", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var got domain.SearchResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Len(t, got.Repos, 1)
		assert.Equal(t, "acme/payments", got.Repos[0].FullName)
	})

	t.Run("provider failure", func(t *testing.T) {
		provider.err = errors.New("github down")
		defer func() { provider.err = nil }()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/search_repos?org=acme&q=pay", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestLoadAlerts(t *testing.T) {
	provider := &fakeProvider{alerts: map[string][]domain.Alert{"acme/payments": {testAlert()}}}
	h, _ := newTestHandler(t, Options{Provider: provider})
	router := h.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/load_alerts", strings.NewReader(`{"repo":"acme/payments"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	var alerts []domain.Alert
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "lodash", alerts[0].Package)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/load_alerts", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestClearCache(t *testing.T) {
	h, c := newTestHandler(t, Options{})
	ctx := context.Background()
	c.Put(ctx, "42", "cached fix")

	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/cache", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	_, ok := c.Get(ctx, "42")
	assert.False(t, ok)
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, Options{Store: fakePinger{}})
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	h, _ = newTestHandler(t, Options{Store: fakePinger{err: errors.New("disk full")}})
	w = httptest.NewRecorder()
	h.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	h.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
