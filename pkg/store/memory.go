package store

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/xhad/docqa/internal/models"
)

var ErrClosed = errors.New("index is closed")

// MemoryOpener opens in-process indexes. Nothing outlives the request.
type MemoryOpener struct{}

func (MemoryOpener) Open(ctx context.Context) (Index, error) {
	return NewMemoryIndex(), nil
}

// MemoryIndex is an exact brute-force cosine similarity index.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   []models.IndexedFragment
	closed    bool
}

func NewMemoryIndex() *MemoryIndex { return &MemoryIndex{} }

// Insert assigns IDs and sequence numbers to fragments and stores them.
func (m *MemoryIndex) Insert(ctx context.Context, fragments []models.IndexedFragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	dimension := m.dimension
	for _, f := range fragments {
		if len(f.Embedding) == 0 {
			return errors.New("empty embedding")
		}
		if dimension == 0 {
			dimension = len(f.Embedding)
		}
		if len(f.Embedding) != dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	m.dimension = dimension

	for _, f := range fragments {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.Seq = len(m.entries)
		f.Embedding = append([]float32(nil), f.Embedding...)
		m.entries = append(m.entries, f)
	}
	return nil
}

func (m *MemoryIndex) Search(ctx context.Context, embedding []float32, limit int) ([]models.Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if m.dimension != 0 && len(embedding) != m.dimension {
		return nil, errors.New("vector dimension mismatch")
	}

	idxs := make([]int, len(m.entries))
	scores := make([]float64, len(m.entries))
	for i := range m.entries {
		idxs[i] = i
		scores[i] = cosine(m.entries[i].Embedding, embedding)
	}
	// Entries are stored in insertion order, so a stable sort keeps ties ordered by Seq.
	sort.SliceStable(idxs, func(a, b int) bool {
		return scores[idxs[a]] > scores[idxs[b]]
	})

	if limit <= 0 || limit > len(idxs) {
		limit = len(idxs)
	}
	results := make([]models.Fragment, 0, limit)
	for _, i := range idxs[:limit] {
		results = append(results, m.entries[i].Fragment)
	}
	return results, nil
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
