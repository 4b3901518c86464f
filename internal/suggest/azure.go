package suggest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultAzureAPIVersion is the Azure OpenAI REST API version used when none is configured.
const DefaultAzureAPIVersion = "2025-01-01-preview"

// tokenExpiryBuffer refreshes Azure AD tokens this long before they expire.
const tokenExpiryBuffer = 30 * time.Second

// AzureConfig configures an Azure OpenAI deployment authenticated with Azure AD
// client credentials.
type AzureConfig struct {
	Endpoint   string
	Deployment string
	APIVersion string
	ProjectID  string

	AuthURL      string
	Scope        string
	ClientID     string
	ClientSecret string
}

// Validate reports missing settings.
func (c AzureConfig) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"AZURE_OPENAI_ENDPOINT":      c.Endpoint,
		"AZURE_OPENAI_DEPLOYMENT":    c.Deployment,
		"AZURE_OPENAI_PROJECT_ID":    c.ProjectID,
		"AZURE_OPENAI_AUTH_URL":      c.AuthURL,
		"AZURE_OPENAI_SCOPE":         c.Scope,
		"AZURE_OPENAI_CLIENT_ID":     c.ClientID,
		"AZURE_OPENAI_CLIENT_SECRET": c.ClientSecret,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return errors.New("missing Azure OpenAI configuration: " + strings.Join(missing, ", "))
	}
	return nil
}

// Configured reports whether any Azure endpoint is set.
func (c AzureConfig) Configured() bool {
	return c.Endpoint != ""
}

// NewAzureOpenAIGenerator creates a generator for an Azure OpenAI deployment.
func NewAzureOpenAIGenerator(ctx context.Context, cfg AzureConfig, logger *slog.Logger) (*OpenAIGenerator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAzureAPIVersion
	}

	clientCfg := openai.DefaultAzureConfig("", cfg.Endpoint)
	clientCfg.APIType = openai.APITypeAzureAD
	clientCfg.APIVersion = cfg.APIVersion
	deployment := cfg.Deployment
	clientCfg.AzureModelMapperFunc = func(string) string { return deployment }
	clientCfg.HTTPClient = azureHTTPClient(ctx, cfg)

	return newOpenAIGenerator(openai.NewClientWithConfig(clientCfg), cfg.Deployment, logger), nil
}

// azureHTTPClient returns a client that attaches a cached Azure AD bearer token and
// the projectId header to every request.
func azureHTTPClient(ctx context.Context, cfg AzureConfig) *http.Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.AuthURL,
		Scopes:       []string{cfg.Scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ts := oauth2.ReuseTokenSourceWithExpiry(nil, cc.TokenSource(ctx), tokenExpiryBuffer)

	return &http.Client{
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   &headerTransport{header: "projectId", value: cfg.ProjectID, base: http.DefaultTransport},
		},
	}
}

type headerTransport struct {
	header string
	value  string
	base   http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set(t.header, t.value)
	return t.base.RoundTrip(clone)
}
