package suggest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"net/http"

	"github.com/ashureev/vulndash/internal/assist"
	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model or deployment is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures an OpenAIGenerator against api.openai.com or a compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIGenerator streams a remediation suggestion from a chat completion model.
//
// It implements assist.Transport, so it serves both as the generator behind the HTTP and
// gRPC endpoints and as a direct client transport. The completion suffix is emitted after
// the model finishes.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIGenerator creates a generator for the OpenAI API.
func NewOpenAIGenerator(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return newOpenAIGenerator(openai.NewClientWithConfig(clientCfg), model, logger), nil
}

func newOpenAIGenerator(client *openai.Client, model string, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Initializing OpenAI suggestion generator", "model", model)
	return &OpenAIGenerator{client: client, model: model, logger: logger}
}

// Suggest implements assist.Transport.
func (g *OpenAIGenerator) Suggest(ctx context.Context, req assist.SuggestionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		g.logger.Info("Starting AI fix stream", "package", req.Package, "severity", req.Severity)

		stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       g.model,
			// A zero temperature is dropped by omitempty; this is effectively greedy decoding.
			Temperature: math.SmallestNonzeroFloat32,
			Stream:      true,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
			},
		})
		if err != nil {
			g.logger.Error("OpenAI stream failed to start", "error", err)
			yield("", openAIError(err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				g.logger.Error("OpenAI stream error", "error", err)
				yield("", openAIError(err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}

		g.logger.Info("AI fix stream completed", "package", req.Package)
		yield(CompletionSuffix, nil)
	}
}

// openAIError converts go-openai errors into classifiable transport errors.
func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		te := assist.StatusError(apiErr.HTTPStatusCode, apiErr.Message)
		te.Err = err
		return te
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		te := assist.StatusError(reqErr.HTTPStatusCode, http.StatusText(reqErr.HTTPStatusCode))
		te.Err = err
		return te
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return assist.NetworkFailure(err)
	}
	var te *assist.TransportError
	if errors.As(err, &te) {
		return err
	}
	return assist.NetworkFailure(fmt.Errorf("openai: %w", err))
}
