package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// ProviderConfig selects and configures the remote model provider.
type ProviderConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

// NewChatModel returns the chat model for config.Provider.
func NewChatModel(config ProviderConfig) (llms.Model, error) {
	switch config.Provider {
	case ProviderOpenAI, "":
		return newOpenAI(config)
	case ProviderOllama:
		llm, err := ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
			ollama.WithHTTPClient(httpClient(config.Timeout)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
}

// NewEmbeddingClient returns the embedding client for config.Provider.
func NewEmbeddingClient(config ProviderConfig) (embeddings.EmbedderClient, error) {
	switch config.Provider {
	case ProviderOpenAI, "":
		return newOpenAI(config)
	case ProviderOllama:
		emb, err := ollama.New(
			ollama.WithModel(config.EmbeddingModel),
			ollama.WithServerURL(config.BaseURL),
			ollama.WithHTTPClient(httpClient(config.Timeout)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		return emb, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", config.Provider)
	}
}

func newOpenAI(config ProviderConfig) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(config.APIKey),
		openai.WithHTTPClient(httpClient(config.Timeout)),
	}
	if config.Model != "" {
		opts = append(opts, openai.WithModel(config.Model))
	}
	if config.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(config.EmbeddingModel))
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return llm, nil
}

func httpClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// NewLimiter returns a limiter allowing rps provider calls per second, or nil
// when rps is zero (unlimited).
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
