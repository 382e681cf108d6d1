package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"

	"github.com/xhad/docqa/internal/apperr"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Client    embeddings.EmbedderClient
	BatchSize int
	Limiter   *rate.Limiter
}

// Embedder turns texts into vectors through the configured provider client.
// Every error it returns is an embedding service error.
type Embedder struct {
	config EmbedderConfig
	embed  *embeddings.EmbedderImpl
}

func NewEmbedderWithConfig(config EmbedderConfig) (*Embedder, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("embedding client is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}

	client := embeddings.EmbedderClientFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		if err := wait(ctx, config.Limiter); err != nil {
			return nil, err
		}
		return config.Client.CreateEmbedding(ctx, texts)
	})

	emb, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &Embedder{
		config: config,
		embed:  emb,
	}, nil
}

// EmbedDocuments returns one vector per text, in order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// The langchaingo embedder rewrites newlines in place.
	input := make([]string, len(texts))
	copy(input, texts)

	vectors, err := e.embed.EmbedDocuments(ctx, input)
	if err != nil {
		return nil, apperr.EmbeddingService(err)
	}
	if len(vectors) != len(texts) {
		return nil, apperr.EmbeddingService(fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(texts)))
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
