package cache

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often StartSweeper removes expired entries.
const DefaultSweepInterval = time.Hour

// StartSweeper runs a background goroutine that periodically deletes expired
// suggestions. It stops when ctx is done.
func StartSweeper(ctx context.Context, c *Cache, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Cache sweeper started", "interval", interval, "retention", c.retention)

		for {
			select {
			case <-ticker.C:
				sweepOnce(ctx, c)
			case <-ctx.Done():
				slog.Info("Cache sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepOnce(ctx context.Context, c *Cache) {
	deleted, err := c.Sweep(ctx)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Cache sweep interrupted by shutdown", "error", err)
			return
		}
		c.metrics.CacheError("sweep")
		slog.Error("Cache sweeper failed to delete expired suggestions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Cache sweeper removed expired suggestions", "count", deleted)
	}
}
