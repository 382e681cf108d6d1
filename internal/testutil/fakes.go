package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"
)

// ErrFake is returned by fakes configured to fail.
var ErrFake = errors.New("fake provider failure")

// FakeEmbeddingClient is a deterministic embeddings.EmbedderClient. Each text
// becomes a normalized bag-of-words vector, so texts sharing words score
// higher under cosine similarity.
type FakeEmbeddingClient struct {
	Dim  int
	Fail bool

	mu    sync.Mutex
	calls int
	texts int
}

func NewFakeEmbeddingClient(dim int) *FakeEmbeddingClient {
	return &FakeEmbeddingClient{Dim: dim}
}

func (f *FakeEmbeddingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts += len(texts)
	fail := f.Fail
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail {
		return nil, ErrFake
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.vector(text)
	}
	return out, nil
}

// Calls reports how many CreateEmbedding requests were made.
func (f *FakeEmbeddingClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Texts reports how many texts were embedded in total.
func (f *FakeEmbeddingClient) Texts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

func (f *FakeEmbeddingClient) vector(text string) []float32 {
	dim := f.Dim
	if dim <= 0 {
		dim = 64
	}
	vec := make([]float32, dim)
	for _, word := range Words(text) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Words lowercases text and splits it on anything that is not a letter or digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// FakeModel is an llms.Model that records prompts. Without Reply it answers
// with the text of the last message it received.
type FakeModel struct {
	Reply func(prompt string) (string, error)
	// Empty makes GenerateContent return a response without choices.
	Empty bool

	mu      sync.Mutex
	prompts []string
}

func (m *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var parts []string
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				parts = append(parts, text.Text)
			}
		}
	}
	prompt := strings.Join(parts, "\n")

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.Empty {
		return &llms.ContentResponse{}, nil
	}

	reply := ""
	if len(parts) > 0 {
		reply = parts[len(parts)-1]
	}
	if m.Reply != nil {
		var err error
		if reply, err = m.Reply(prompt); err != nil {
			return nil, err
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Prompts returns every prompt seen so far.
func (m *FakeModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
