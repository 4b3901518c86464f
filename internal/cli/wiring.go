package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/ashureev/vulndash/internal/cache"
	"github.com/ashureev/vulndash/internal/config"
	"github.com/ashureev/vulndash/internal/metrics"
	"github.com/ashureev/vulndash/internal/store"
	"github.com/ashureev/vulndash/internal/suggest"
)

// openStore opens the cache backend selected by c.
func openStore(c config.CacheConfig, logger *slog.Logger) (store.Repository, error) {
	switch c.Backend {
	case config.BackendBadger:
		bc := store.DefaultBadgerConfig(c.Dir)
		bc.TTL = c.Retention
		bc.Logger = logger
		return store.NewBadger(bc)
	case config.BackendMemory:
		return store.NewMemory(), nil
	default:
		return store.NewSQLite(c.DBPath)
	}
}

func newCache(repo store.Repository, c config.CacheConfig, m *metrics.Metrics, logger *slog.Logger) *cache.Cache {
	return cache.New(repo,
		cache.WithRetention(c.Retention),
		cache.WithMetrics(m),
		cache.WithLogger(logger),
	)
}

func sessionConfig(c *config.Config, logger *slog.Logger) assist.SessionConfig {
	timeout := c.Suggest.Timeout
	if timeout == 0 {
		timeout = -1
	}
	return assist.SessionConfig{
		Timeout:          timeout,
		CompletionMarker: c.Suggest.CompletionMarker,
		Logger:           logger,
	}
}

// newGenerator returns the model-backed generator, preferring Azure when configured.
// It returns nil when no model credentials are set.
func newGenerator(ctx context.Context, c *config.Config, logger *slog.Logger) (*suggest.OpenAIGenerator, error) {
	az := suggest.AzureConfig{
		Endpoint:     c.Suggest.Azure.Endpoint,
		Deployment:   c.Suggest.Azure.Deployment,
		APIVersion:   c.Suggest.Azure.APIVersion,
		ProjectID:    c.Suggest.Azure.ProjectID,
		AuthURL:      c.Suggest.Azure.AuthURL,
		Scope:        c.Suggest.Azure.Scope,
		ClientID:     c.Suggest.Azure.ClientID,
		ClientSecret: c.Suggest.Azure.ClientSecret,
	}
	if az.Configured() {
		return suggest.NewAzureOpenAIGenerator(ctx, az, logger)
	}
	if c.Suggest.OpenAI.APIKey != "" {
		return suggest.NewOpenAIGenerator(suggest.OpenAIConfig{
			APIKey:  c.Suggest.OpenAI.APIKey,
			BaseURL: c.Suggest.OpenAI.BaseURL,
			Model:   c.Suggest.OpenAI.Model,
		}, logger)
	}
	return nil, nil
}

// newTransport builds the client-side suggestion transport. The returned close
// function releases its connection.
func newTransport(ctx context.Context, c *config.Config, logger *slog.Logger) (assist.Transport, func(), error) {
	switch c.Suggest.Transport {
	case config.TransportGRPC:
		t, err := suggest.NewGRPCTransport(suggest.DefaultGRPCConfig(c.Suggest.GRPCAddr), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect suggestion server: %w", err)
		}
		return t, t.Close, nil
	case config.TransportOpenAI:
		gen, err := newGenerator(ctx, c, logger)
		if err != nil {
			return nil, nil, err
		}
		if gen == nil {
			return nil, nil, errors.New("SUGGEST_TRANSPORT=openai needs OPENAI_API_KEY or AZURE_OPENAI_* settings")
		}
		return gen, func() {}, nil
	default:
		return suggest.NewHTTPTransport(c.Suggest.URL, nil, logger), func() {}, nil
	}
}
