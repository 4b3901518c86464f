package suggest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSSEChunks(t *testing.T, w http.ResponseWriter, deltas ...string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		payload, err := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion.chunk",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": d}}},
		})
		require.NoError(t, err)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

func TestOpenAIGenerator_StreamsDeltasThenMarker(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 2)
		prompt = body.Messages[1].Content

		writeSSEChunks(t, w, "Upgrade ", "lodash.")
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	chunks, err := collect(gen.Suggest(t.Context(), testRequest(t)))
	require.NoError(t, err)
	assert.Equal(t, []string{"Upgrade ", "lodash.", CompletionSuffix}, chunks)
	assert.Contains(t, prompt, "- Package: lodash")
}

func TestOpenAIGenerator_APIErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Rate limit reached","type":"requests"}}`)
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)

	_, err = collect(gen.Suggest(t.Context(), testRequest(t)))
	require.Error(t, err)
	assert.Equal(t, assist.KindRateLimited, assist.Classify(assist.SignalFromError(err)))
}

func TestOpenAIGenerator_RequiresKey(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{}, nil)
	assert.Error(t, err)
}

func TestAzureOpenAIGenerator_UsesClientCredentials(t *testing.T) {
	tokenCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "api://azure/.default", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"ad-token","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/openai/deployments/gpt4-fixes/chat/completions"), r.URL.Path)
		assert.Equal(t, DefaultAzureAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "Bearer ad-token", r.Header.Get("Authorization"))
		assert.Equal(t, "proj-7", r.Header.Get("projectId"))
		writeSSEChunks(t, w, "ok")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gen, err := NewAzureOpenAIGenerator(t.Context(), AzureConfig{
		Endpoint:     srv.URL,
		Deployment:   "gpt4-fixes",
		ProjectID:    "proj-7",
		AuthURL:      srv.URL + "/oauth2/token",
		Scope:        "api://azure/.default",
		ClientID:     "client-id",
		ClientSecret: "secret",
	}, nil)
	require.NoError(t, err)

	for range 2 {
		chunks, err := collect(gen.Suggest(t.Context(), testRequest(t)))
		require.NoError(t, err)
		assert.Equal(t, []string{"ok", CompletionSuffix}, chunks)
	}
	assert.Equal(t, 1, tokenCalls, "token must be cached between requests")
}

func TestAzureConfig_Validate(t *testing.T) {
	err := AzureConfig{Endpoint: "https://example.openai.azure.com"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AZURE_OPENAI_CLIENT_ID")
	assert.NotContains(t, err.Error(), "AZURE_OPENAI_ENDPOINT")
}
