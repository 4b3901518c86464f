package domain

import "time"

// Suggestion is a completed AI remediation text stored for an alert.
type Suggestion struct {
	AlertID   string    `json:"alert_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether s is older than retention at now.
func (s *Suggestion) Expired(now time.Time, retention time.Duration) bool {
	return retention > 0 && now.Sub(s.CreatedAt) > retention
}
