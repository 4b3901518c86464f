package domain

// SeverityCounts holds per-severity alert counts.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Add increments the counter for sev. Unknown severities are ignored.
func (c *SeverityCounts) Add(sev Severity) {
	switch sev {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	}
}

// Highest returns the most severe level with a non-zero count, or low.
func (c SeverityCounts) Highest() Severity {
	switch {
	case c.Critical > 0:
		return SeverityCritical
	case c.High > 0:
		return SeverityHigh
	case c.Medium > 0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Total returns the number of counted alerts.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low
}

// RepoSummary is one repository in a search result.
type RepoSummary struct {
	FullName string         `json:"full_name"`
	Counts   SeverityCounts `json:"counts"`
	Severity Severity       `json:"severity"`
}

// Summary aggregates counts across a search result.
type Summary struct {
	ReposFound int `json:"repos_found"`
	SeverityCounts
}

// SearchResult is returned by a repository search.
type SearchResult struct {
	Repos   []RepoSummary `json:"repos"`
	Summary Summary       `json:"summary"`
}
