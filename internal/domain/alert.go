// Package domain contains core domain types for the vulnerability dashboard.
package domain

import "strings"

// Severity is the advisory severity of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// ParseSeverity normalizes s. Unknown values report ok=false.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Severities {
		if sev == known {
			return sev, true
		}
	}
	return sev, false
}

// Alert is a single Dependabot vulnerability finding. Alerts are read-only once loaded.
type Alert struct {
	ID            string   `json:"id"`
	Vulnerability string   `json:"vulnerability"`
	Package       string   `json:"package"`
	Severity      Severity `json:"severity"`
	PatchedIn     string   `json:"patched_in"`
	ApplyFixIn    string   `json:"apply_fix_in"`
	RepoName      string   `json:"repo_name,omitempty"`
}

// CacheKey identifies the alert across repositories. Dependabot numbers are only unique
// within a repository, so the repository name is part of the key when known.
func (a Alert) CacheKey() string {
	if a.ID == "" || a.RepoName == "" {
		return a.ID
	}
	return a.RepoName + "#" + a.ID
}
