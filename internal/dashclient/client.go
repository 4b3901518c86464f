// Package dashclient talks to a running vulndash server over its HTTP API.
package dashclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
)

// DefaultTimeout bounds search and alert calls. Suggestion streams use their own transport.
const DefaultTimeout = 60 * time.Second

// Client is an HTTP client for the dashboard API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL. A nil client uses one with DefaultTimeout.
func New(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// SearchRepos calls GET /search_repos.
func (c *Client) SearchRepos(ctx context.Context, org, query string) (domain.SearchResult, error) {
	var result domain.SearchResult
	q := url.Values{"org": {org}, "q": {query}}
	if err := c.do(ctx, http.MethodGet, "/search_repos?"+q.Encode(), nil, &result); err != nil {
		return domain.SearchResult{}, fmt.Errorf("search repos: %w", err)
	}
	return result, nil
}

// ListAlerts calls POST /load_alerts.
func (c *Client) ListAlerts(ctx context.Context, fullName string) ([]domain.Alert, error) {
	var alerts []domain.Alert
	body := map[string]string{"repo": fullName}
	if err := c.do(ctx, http.MethodPost, "/load_alerts", body, &alerts); err != nil {
		return nil, fmt.Errorf("load alerts for %s: %w", fullName, err)
	}
	for i := range alerts {
		if alerts[i].RepoName == "" {
			alerts[i].RepoName = fullName
		}
	}
	return alerts, nil
}

// ClearCache calls DELETE /api/cache.
func (c *Client) ClearCache(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/api/cache", nil, nil); err != nil {
		return fmt.Errorf("clear server cache: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
