package retrieval_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/apperr"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/testutil"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/retrieval"
	"github.com/xhad/docqa/pkg/store"
)

func newEmbedder(t *testing.T, client *testutil.FakeEmbeddingClient) *llm.Embedder {
	t.Helper()
	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Client: client})
	require.NoError(t, err)
	return emb
}

var capitals = []models.Fragment{
	{Content: "Paris is the capital of France.", Metadata: map[string]interface{}{"page": 1}},
	{Content: "Berlin is the capital of Germany.", Metadata: map[string]interface{}{"page": 2}},
	{Content: "Bananas are rich in potassium.", Metadata: map[string]interface{}{"page": 3}},
}

// recordingOpener remembers the indexes it opened.
type recordingOpener struct {
	opened []*closeTracker
}

type closeTracker struct {
	store.Index
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return c.Index.Close()
}

func (o *recordingOpener) Open(ctx context.Context) (store.Index, error) {
	ix := &closeTracker{Index: store.NewMemoryIndex()}
	o.opened = append(o.opened, ix)
	return ix, nil
}

func TestBuildAndRetrieve(t *testing.T) {
	ctx := context.Background()
	emb := newEmbedder(t, testutil.NewFakeEmbeddingClient(256))

	index, err := retrieval.NewBuilder(emb, store.MemoryOpener{}).Build(ctx, capitals)
	require.NoError(t, err)
	defer index.Close()
	assert.Equal(t, 3, index.Len())

	r := retrieval.NewRetriever(emb, 5)
	results, err := r.Retrieve(ctx, index, "What is the capital of France?", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, capitals[0], results[0])
}

func TestRetrieveMoreThanIndexed(t *testing.T) {
	ctx := context.Background()
	emb := newEmbedder(t, testutil.NewFakeEmbeddingClient(256))

	index, err := retrieval.NewBuilder(emb, store.MemoryOpener{}).Build(ctx, capitals)
	require.NoError(t, err)
	defer index.Close()

	results, err := retrieval.NewRetriever(emb, 5).Retrieve(ctx, index, "capital of France", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, capitals[0].Content, results[0].Content)
}

func TestRetrieveDefaultK(t *testing.T) {
	ctx := context.Background()
	emb := newEmbedder(t, testutil.NewFakeEmbeddingClient(64))

	fragments := make([]models.Fragment, 8)
	for i := range fragments {
		fragments[i] = models.Fragment{Content: "same text"}
	}
	index, err := retrieval.NewBuilder(emb, store.MemoryOpener{}).Build(ctx, fragments)
	require.NoError(t, err)
	defer index.Close()

	results, err := retrieval.NewRetriever(emb, 0).Retrieve(ctx, index, "same text", 0)
	require.NoError(t, err)
	assert.Len(t, results, retrieval.DefaultTopK)

	results, err = retrieval.NewRetriever(emb, 2).Retrieve(ctx, index, "same text", -1)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// Building twice from the same fragments gives the same answers.
func TestBuildIsRepeatable(t *testing.T) {
	ctx := context.Background()
	emb := newEmbedder(t, testutil.NewFakeEmbeddingClient(256))
	builder := retrieval.NewBuilder(emb, store.MemoryOpener{})
	r := retrieval.NewRetriever(emb, 5)

	var runs [][]models.Fragment
	for i := 0; i < 2; i++ {
		index, err := builder.Build(ctx, capitals)
		require.NoError(t, err)
		results, err := r.Retrieve(ctx, index, "Which country has Berlin?", 3)
		require.NoError(t, err)
		require.NoError(t, index.Close())
		runs = append(runs, results)
	}
	assert.Equal(t, runs[0], runs[1])
}

func TestBuildEmpty(t *testing.T) {
	client := testutil.NewFakeEmbeddingClient(16)
	opener := &recordingOpener{}

	_, err := retrieval.NewBuilder(newEmbedder(t, client), opener).Build(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindMalformedDocument, apperr.KindOf(err))
	assert.Zero(t, client.Calls())
	assert.Empty(t, opener.opened)
}

func TestBuildEmbeddingFailure(t *testing.T) {
	client := testutil.NewFakeEmbeddingClient(16)
	client.Fail = true
	opener := &recordingOpener{}

	index, err := retrieval.NewBuilder(newEmbedder(t, client), opener).Build(context.Background(), capitals)
	require.Error(t, err)
	assert.Nil(t, index)
	assert.Equal(t, apperr.KindEmbeddingService, apperr.KindOf(err))
	assert.Empty(t, opener.opened)
}

type badEmbedder struct{}

func (badEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1, 0}, {1}}, nil
}

func (badEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("boom")
}

func TestBuildInsertFailureClosesIndex(t *testing.T) {
	opener := &recordingOpener{}

	_, err := retrieval.NewBuilder(badEmbedder{}, opener).Build(context.Background(), capitals[:2])
	require.Error(t, err)
	require.Len(t, opener.opened, 1)
	assert.True(t, opener.opened[0].closed)
}

func TestBuildCountMismatch(t *testing.T) {
	_, err := retrieval.NewBuilder(badEmbedder{}, &recordingOpener{}).Build(context.Background(), capitals)
	assert.Equal(t, apperr.KindEmbeddingService, apperr.KindOf(err))
}

func TestRetrieveEmbeddingFailure(t *testing.T) {
	_, err := retrieval.NewRetriever(badEmbedder{}, 5).Retrieve(context.Background(), store.NewMemoryIndex(), "q", 1)
	assert.Equal(t, apperr.KindEmbeddingService, apperr.KindOf(err))
}
