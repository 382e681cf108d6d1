// Package store holds the per-request vector indexes fragments are searched in.
package store

import (
	"context"

	"github.com/xhad/docqa/internal/models"
)

// Index holds the fragments of a single request. Search returns fragments
// nearest to embedding first; fragments with equal scores come back in
// insertion order. A limit <= 0 returns every fragment.
type Index interface {
	Insert(ctx context.Context, fragments []models.IndexedFragment) error
	Search(ctx context.Context, embedding []float32, limit int) ([]models.Fragment, error)
	Len() int
	Close() error
}

// Opener creates an empty Index for one request.
type Opener interface {
	Open(ctx context.Context) (Index, error)
}
