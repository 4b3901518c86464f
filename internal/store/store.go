// Package store provides persistence for cached AI suggestions.
package store

import (
	"context"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
)

// Repository defines the interface for persisting suggestions.
type Repository interface {
	// GetSuggestion retrieves the suggestion for an alert. A missing entry returns nil, nil.
	GetSuggestion(ctx context.Context, alertID string) (*domain.Suggestion, error)

	// PutSuggestion creates or replaces the suggestion for s.AlertID.
	PutSuggestion(ctx context.Context, s *domain.Suggestion) error

	// ClearSuggestions removes every suggestion and returns how many were removed.
	ClearSuggestions(ctx context.Context) (int64, error)

	// DeleteExpired removes suggestions created before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
