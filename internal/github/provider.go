// Package github loads repositories and Dependabot alerts from the GitHub API.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
	"github.com/ashureev/vulndash/internal/metrics"
	gh "github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxRepos is the page size for repository and alert listings.
	DefaultMaxRepos = 100
	// DefaultConcurrency bounds parallel alert fetches during a search.
	DefaultConcurrency = 8
	// DefaultApplyFixIn is used when an alert has no manifest path.
	DefaultApplyFixIn = "pom.xml"
)

// Config configures a Provider.
type Config struct {
	Token       string
	BaseURL     string // GitHub Enterprise API URL; empty for github.com
	MaxRepos    int
	Concurrency int
	Timeout     time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Provider implements repository search and alert listing over go-github.
type Provider struct {
	client      *gh.Client
	maxRepos    int
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Provider authenticated with cfg.Token. An empty token makes
// unauthenticated requests, which GitHub rate limits heavily.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = cfg.Timeout
	}

	client := gh.NewClient(httpClient)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("configure GitHub API URL %s: %w", cfg.BaseURL, err)
		}
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing go-github client.
func NewWithClient(client *gh.Client, cfg Config) *Provider {
	if cfg.MaxRepos <= 0 {
		cfg.MaxRepos = DefaultMaxRepos
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{
		client:      client,
		maxRepos:    cfg.MaxRepos,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// SearchRepos finds repositories in org whose name contains query or whose
// vitals.yaml declares it as projectFriendlyName, and counts their alerts by severity.
// Empty org or query returns an empty result.
func (p *Provider) SearchRepos(ctx context.Context, org, query string) (domain.SearchResult, error) {
	org = strings.TrimSpace(org)
	query = strings.ToLower(strings.TrimSpace(query))
	result := domain.SearchResult{Repos: []domain.RepoSummary{}}
	if org == "" || query == "" {
		return result, nil
	}

	repos, err := p.listOrgRepos(ctx, org)
	if err != nil {
		return result, err
	}
	codeMatches := p.searchCode(ctx, org, query)

	var matched []*gh.Repository
	for _, repo := range repos {
		fullName := strings.ToLower(repo.GetFullName())
		if strings.Contains(strings.ToLower(repo.GetName()), query) || codeMatches[fullName] {
			matched = append(matched, repo)
		}
	}

	summaries := make([]domain.RepoSummary, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, repo := range matched {
		g.Go(func() error {
			owner, name, ok := splitFullName(repo.GetFullName())
			var alerts []*gh.DependabotAlert
			if ok {
				var err error
				alerts, err = p.fetchAlerts(gctx, owner, name)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					p.logger.Error("Failed to fetch alerts", "repo", repo.GetFullName(), "error", err)
				}
			}

			var counts domain.SeverityCounts
			for _, a := range alerts {
				counts.Add(alertSeverity(a))
			}
			summaries[i] = domain.RepoSummary{
				FullName: repo.GetFullName(),
				Counts:   counts,
				Severity: counts.Highest(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("fetch alerts for %s: %w", org, err)
	}

	result.Repos = summaries
	for _, s := range summaries {
		result.Summary.Critical += s.Counts.Critical
		result.Summary.High += s.Counts.High
		result.Summary.Medium += s.Counts.Medium
		result.Summary.Low += s.Counts.Low
	}
	result.Summary.ReposFound = len(summaries)

	p.logger.Info("Search completed", "org", org, "query", query, "repos_found", len(summaries))
	return result, nil
}

// ListAlerts returns the Dependabot alerts of fullName ("owner/repo").
// Missing or inaccessible repositories yield an empty list.
func (p *Provider) ListAlerts(ctx context.Context, fullName string) ([]domain.Alert, error) {
	owner, name, ok := splitFullName(strings.TrimSpace(fullName))
	if !ok {
		p.logger.Warn("Invalid repository name format", "repo", fullName)
		return []domain.Alert{}, nil
	}

	raw, err := p.fetchAlerts(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("list alerts for %s/%s: %w", owner, name, err)
	}

	alerts := make([]domain.Alert, 0, len(raw))
	for i, a := range raw {
		alerts = append(alerts, toAlert(a, owner+"/"+name, i))
	}
	p.logger.Info("Loaded alerts", "repo", fullName, "count", len(alerts))
	return alerts, nil
}

func (p *Provider) listOrgRepos(ctx context.Context, org string) ([]*gh.Repository, error) {
	repos, _, err := p.client.Repositories.ListByOrg(ctx, org, &gh.RepositoryListByOrgOptions{
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: gh.ListOptions{PerPage: p.maxRepos},
	})
	if err != nil {
		p.metrics.GitHubRequest("repos", "error")
		return nil, fmt.Errorf("list repositories for %s: %w", org, err)
	}
	p.metrics.GitHubRequest("repos", "ok")
	p.logger.Info("Fetched organization repositories", "org", org, "count", len(repos))
	return repos, nil
}

// searchCode returns lower-cased full names of repos whose vitals.yaml matches query.
// Failures are logged and yield no matches.
func (p *Provider) searchCode(ctx context.Context, org, query string) map[string]bool {
	q := fmt.Sprintf("projectFriendlyName:%s filename:vitals.yaml org:%s", query, org)
	res, _, err := p.client.Search.Code(ctx, q, &gh.SearchOptions{})
	if err != nil {
		p.metrics.GitHubRequest("code_search", "error")
		p.logger.Warn("Code search failed", "org", org, "query", query, "error", err)
		return nil
	}
	p.metrics.GitHubRequest("code_search", "ok")

	matches := make(map[string]bool, len(res.CodeResults))
	for _, cr := range res.CodeResults {
		if name := cr.GetRepository().GetFullName(); name != "" {
			matches[strings.ToLower(name)] = true
		}
	}
	p.logger.Debug("Code search matches", "count", len(matches))
	return matches
}

// fetchAlerts returns nil, nil for 404 and 403 responses.
func (p *Provider) fetchAlerts(ctx context.Context, owner, repo string) ([]*gh.DependabotAlert, error) {
	alerts, _, err := p.client.Dependabot.ListRepoAlerts(ctx, owner, repo, &gh.ListAlertsOptions{
		ListOptions: gh.ListOptions{PerPage: p.maxRepos},
	})
	if err != nil {
		var errResp *gh.ErrorResponse
		if errors.As(err, &errResp) && errResp.Response != nil {
			switch errResp.Response.StatusCode {
			case http.StatusNotFound:
				p.metrics.GitHubRequest("alerts", "skipped")
				p.logger.Info("Repository not found or no access", "repo", owner+"/"+repo)
				return nil, nil
			case http.StatusForbidden:
				p.metrics.GitHubRequest("alerts", "skipped")
				p.logger.Warn("Access forbidden for repository alerts", "repo", owner+"/"+repo)
				return nil, nil
			}
		}
		p.metrics.GitHubRequest("alerts", "error")
		return nil, err
	}
	p.metrics.GitHubRequest("alerts", "ok")
	return alerts, nil
}

func splitFullName(fullName string) (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(fullName, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}

func alertSeverity(a *gh.DependabotAlert) domain.Severity {
	sev := a.GetSecurityAdvisory().GetSeverity()
	if sev == "" {
		return domain.SeverityLow
	}
	s, _ := domain.ParseSeverity(sev)
	return s
}

func toAlert(a *gh.DependabotAlert, repo string, index int) domain.Alert {
	advisory := a.GetSecurityAdvisory()

	vuln := a.GetSecurityVulnerability()
	if vuln == nil && advisory != nil && len(advisory.Vulnerabilities) > 0 {
		vuln = advisory.Vulnerabilities[0]
	}

	summary := advisory.GetSummary()
	if summary == "" {
		summary = "Unknown vulnerability"
	}
	pkg := vuln.GetPackage().GetName()
	if pkg == "" {
		pkg = a.GetDependency().GetPackage().GetName()
	}
	if pkg == "" {
		pkg = "Unknown package"
	}
	patched := vuln.GetFirstPatchedVersion().GetIdentifier()
	if patched == "" {
		patched = "N/A"
	}
	applyIn := a.GetDependency().GetManifestPath()
	if applyIn == "" {
		applyIn = DefaultApplyFixIn
	}
	id := "alert_" + strconv.Itoa(index)
	if n := a.GetNumber(); n != 0 {
		id = strconv.Itoa(n)
	}

	return domain.Alert{
		ID:            id,
		Vulnerability: summary,
		Package:       pkg,
		Severity:      alertSeverity(a),
		PatchedIn:     patched,
		ApplyFixIn:    applyIn,
		RepoName:      repo,
	}
}
