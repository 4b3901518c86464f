// Package config provides application configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// environment variables, each layer overriding the previous one.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port        string `yaml:"port"`
	GRPCPort    int    `yaml:"grpc_port"`
	FrontendURL string `yaml:"frontend_url"`
	LogLevel    string `yaml:"log_level"`

	// ServerURL is the dashboard server used by client commands.
	ServerURL string `yaml:"server_url"`

	Cache     CacheConfig     `yaml:"cache"`
	GitHub    GitHubConfig    `yaml:"github"`
	Suggest   SuggestConfig   `yaml:"suggest"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// CacheConfig selects and tunes the suggestion cache backend.
type CacheConfig struct {
	Backend       string        `yaml:"backend"` // sqlite, badger or memory
	DBPath        string        `yaml:"db_path"`
	Dir           string        `yaml:"dir"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// GitHubConfig configures the alert provider.
type GitHubConfig struct {
	Token          string        `yaml:"token"`
	APIURL         string        `yaml:"api_url"`
	MaxRepos       int           `yaml:"max_repos"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Concurrency    int           `yaml:"concurrency"`
}

// SuggestConfig configures how suggestions are produced and fetched.
type SuggestConfig struct {
	Transport        string        `yaml:"transport"` // http, grpc or openai
	URL              string        `yaml:"url"`
	GRPCAddr         string        `yaml:"grpc_addr"`
	Timeout          time.Duration `yaml:"timeout"`
	CompletionMarker string        `yaml:"completion_marker"`
	OpenAI           OpenAIConfig  `yaml:"openai"`
	Azure            AzureConfig   `yaml:"azure"`
}

// OpenAIConfig configures direct OpenAI access.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// AzureConfig configures Azure OpenAI with Azure AD client credentials.
type AzureConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Deployment   string `yaml:"deployment"`
	APIVersion   string `yaml:"api_version"`
	ProjectID    string `yaml:"project_id"`
	AuthURL      string `yaml:"auth_url"`
	Scope        string `yaml:"scope"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// RateLimitConfig bounds suggestion streaming per client identity.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"

	TransportHTTP   = "http"
	TransportGRPC   = "grpc"
	TransportOpenAI = "openai"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:      "8000",
		LogLevel:  "info",
		ServerURL: "http://localhost:8000",
		Cache: CacheConfig{
			Backend:       BackendSQLite,
			DBPath:        "./data/vulndash.db",
			Dir:           "./data/badger",
			Retention:     24 * time.Hour,
			SweepInterval: time.Hour,
		},
		GitHub: GitHubConfig{
			APIURL:         "",
			MaxRepos:       100,
			RequestTimeout: 30 * time.Second,
			Concurrency:    8,
		},
		Suggest: SuggestConfig{
			Transport:        TransportHTTP,
			URL:              "http://localhost:8000/stream_fix",
			GRPCAddr:         "localhost:50051",
			Timeout:          30 * time.Second,
			CompletionMarker: "✅ Analysis complete!",
			OpenAI:           OpenAIConfig{Model: "gpt-4o-mini"},
			Azure:            AzureConfig{APIVersion: "2025-01-01-preview"},
		},
		RateLimit: RateLimitConfig{RPS: 1, Burst: 5},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if non-empty)
// and environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.GRPCPort = getEnvInt("GRPC_PORT", c.GRPCPort)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.ServerURL = getEnv("VULNDASH_URL", c.ServerURL)

	c.Cache.Backend = strings.ToLower(getEnv("CACHE_BACKEND", c.Cache.Backend))
	c.Cache.DBPath = getEnv("DB_PATH", c.Cache.DBPath)
	c.Cache.Dir = getEnv("CACHE_DIR", c.Cache.Dir)
	c.Cache.Retention = getEnvDuration("CACHE_RETENTION", c.Cache.Retention)
	c.Cache.SweepInterval = getEnvDuration("CACHE_SWEEP_INTERVAL", c.Cache.SweepInterval)

	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)
	c.GitHub.APIURL = getEnv("GITHUB_API_URL", c.GitHub.APIURL)
	c.GitHub.MaxRepos = getEnvInt("MAX_REPOS_PER_REQUEST", c.GitHub.MaxRepos)
	c.GitHub.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.GitHub.RequestTimeout)
	c.GitHub.Concurrency = getEnvInt("ALERT_FETCH_CONCURRENCY", c.GitHub.Concurrency)

	c.Suggest.Transport = strings.ToLower(getEnv("SUGGEST_TRANSPORT", c.Suggest.Transport))
	c.Suggest.URL = getEnv("SUGGEST_URL", c.Suggest.URL)
	c.Suggest.GRPCAddr = getEnv("SUGGEST_GRPC_ADDR", c.Suggest.GRPCAddr)
	c.Suggest.Timeout = getEnvDuration("SUGGEST_TIMEOUT", c.Suggest.Timeout)
	c.Suggest.CompletionMarker = getEnv("COMPLETION_MARKER", c.Suggest.CompletionMarker)

	c.Suggest.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.Suggest.OpenAI.APIKey)
	c.Suggest.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.Suggest.OpenAI.BaseURL)
	c.Suggest.OpenAI.Model = getEnv("OPENAI_MODEL", c.Suggest.OpenAI.Model)

	az := &c.Suggest.Azure
	az.Endpoint = getEnv("AZURE_OPENAI_ENDPOINT", az.Endpoint)
	az.Deployment = getEnv("AZURE_OPENAI_DEPLOYMENT", az.Deployment)
	az.APIVersion = getEnv("AZURE_OPENAI_API_VERSION", az.APIVersion)
	az.ProjectID = getEnv("AZURE_OPENAI_PROJECT_ID", az.ProjectID)
	az.AuthURL = getEnv("AZURE_OPENAI_AUTH_URL", az.AuthURL)
	az.Scope = getEnv("AZURE_OPENAI_SCOPE", az.Scope)
	az.ClientID = getEnv("AZURE_OPENAI_CLIENT_ID", az.ClientID)
	az.ClientSecret = getEnv("AZURE_OPENAI_CLIENT_SECRET", az.ClientSecret)

	c.RateLimit.RPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("GRPC_PORT %d out of range", c.GRPCPort))
	}
	switch c.Cache.Backend {
	case BackendSQLite:
		if c.Cache.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH cannot be empty"))
		}
	case BackendBadger:
		if c.Cache.Dir == "" {
			errs = append(errs, errors.New("CACHE_DIR cannot be empty"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be sqlite, badger or memory, got %q", c.Cache.Backend))
	}
	if c.Cache.Retention < 0 {
		errs = append(errs, errors.New("CACHE_RETENTION must be >= 0"))
	}
	switch c.Suggest.Transport {
	case TransportHTTP, TransportGRPC, TransportOpenAI:
	default:
		errs = append(errs, fmt.Errorf("SUGGEST_TRANSPORT must be http, grpc or openai, got %q", c.Suggest.Transport))
	}
	if c.GitHub.MaxRepos <= 0 || c.GitHub.MaxRepos > 100 {
		errs = append(errs, errors.New("MAX_REPOS_PER_REQUEST must be between 1 and 100"))
	}
	if c.RateLimit.RPS <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must be > 0"))
	}
	if c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// AllowedOrigins returns the CORS origins for the HTTP API.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
