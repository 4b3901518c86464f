// Package cache implements the suggestion result cache used by the assistance
// manager. Backend failures never reach callers: a failed read is a miss and a
// failed write is dropped with a warning.
package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
	"github.com/ashureev/vulndash/internal/metrics"
	"github.com/ashureev/vulndash/internal/store"
)

// DefaultRetention is how long a completed suggestion stays valid.
const DefaultRetention = 24 * time.Hour

// Option configures a Cache.
type Option func(*Cache)

// WithRetention overrides DefaultRetention. Zero or negative keeps entries forever.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) { c.retention = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics records lookups and degraded operations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger overrides slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// Cache maps alert ids to completed suggestion text.
type Cache struct {
	repo      store.Repository
	retention time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New wraps repo.
func New(repo store.Repository, opts ...Option) *Cache {
	c := &Cache{
		repo:      repo,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Retention returns the configured retention.
func (c *Cache) Retention() time.Duration { return c.retention }

// Get returns the cached text for alertID. Expired entries read as absent.
func (c *Cache) Get(ctx context.Context, alertID string) (string, bool) {
	sg, err := c.repo.GetSuggestion(ctx, alertID)
	if err != nil {
		c.metrics.CacheError("get")
		c.logger.Warn("Suggestion cache read failed", "alert_id", alertID, "error", err)
		return "", false
	}
	if sg == nil || sg.Expired(c.now(), c.retention) {
		return "", false
	}
	return sg.Text, true
}

// Put stores text for alertID, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, alertID, text string) {
	sg := &domain.Suggestion{AlertID: alertID, Text: text, CreatedAt: c.now()}
	if err := c.repo.PutSuggestion(ctx, sg); err != nil {
		c.metrics.CacheError("put")
		c.logger.Warn("Suggestion cache write failed", "alert_id", alertID, "error", err)
	}
}

// Clear removes every entry.
func (c *Cache) Clear(ctx context.Context) {
	n, err := c.repo.ClearSuggestions(ctx)
	if err != nil {
		c.metrics.CacheError("clear")
		c.logger.Warn("Suggestion cache clear failed", "error", err)
		return
	}
	c.logger.Info("Suggestion cache cleared", "removed", n)
}

// Sweep deletes entries older than the retention and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	if c.retention <= 0 {
		return 0, nil
	}
	return c.repo.DeleteExpired(ctx, c.now().Add(-c.retention))
}
