package types

import (
	"context"

	"github.com/xhad/docqa/internal/models"
)

// Core interfaces
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Chunker interface {
	Split(docs []models.Document) ([]models.Fragment, error)
}

type Synthesizer interface {
	Answer(ctx context.Context, question string, fragments []models.Fragment) (string, error)
}
