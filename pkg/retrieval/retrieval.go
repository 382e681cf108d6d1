// Package retrieval builds per-request vector indexes and searches them.
package retrieval

import (
	"context"
	"fmt"

	"github.com/xhad/docqa/internal/apperr"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/store"
)

const DefaultTopK = 5

// Builder embeds fragments and loads them into a fresh index.
type Builder struct {
	embedder types.Embedder
	opener   store.Opener
}

func NewBuilder(embedder types.Embedder, opener store.Opener) *Builder {
	return &Builder{embedder: embedder, opener: opener}
}

// Build returns an index holding exactly fragments. On failure no index is
// returned and anything opened has been closed.
func (b *Builder) Build(ctx context.Context, fragments []models.Fragment) (store.Index, error) {
	if len(fragments) == 0 {
		return nil, apperr.MalformedDocument("document produced no text to index", nil)
	}

	texts := make([]string, len(fragments))
	for i, f := range fragments {
		texts[i] = f.Content
	}

	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, asEmbeddingError(err)
	}
	if len(vectors) != len(fragments) {
		return nil, apperr.EmbeddingService(fmt.Errorf("got %d embeddings for %d fragments", len(vectors), len(fragments)))
	}

	index, err := b.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	indexed := make([]models.IndexedFragment, len(fragments))
	for i, f := range fragments {
		indexed[i] = models.IndexedFragment{Fragment: f, Embedding: vectors[i]}
	}

	if err := index.Insert(ctx, indexed); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to insert fragments: %w", err)
	}

	return index, nil
}

// Retriever finds the fragments closest to a question.
type Retriever struct {
	embedder    types.Embedder
	defaultTopK int
}

func NewRetriever(embedder types.Embedder, defaultTopK int) *Retriever {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{embedder: embedder, defaultTopK: defaultTopK}
}

// Retrieve returns up to k fragments of index, best match first. k <= 0 uses
// the retriever's default.
func (r *Retriever) Retrieve(ctx context.Context, index store.Index, question string, k int) ([]models.Fragment, error) {
	if k <= 0 {
		k = r.defaultTopK
	}

	query, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, asEmbeddingError(err)
	}

	fragments, err := index.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	return fragments, nil
}

func asEmbeddingError(err error) error {
	if apperr.KindOf(err) == apperr.KindEmbeddingService {
		return err
	}
	return apperr.EmbeddingService(err)
}
