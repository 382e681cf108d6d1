package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docqa/internal/apperr"
	"github.com/xhad/docqa/internal/testutil"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/retrieval"
	"github.com/xhad/docqa/pkg/store"
	"github.com/xhad/docqa/server"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type part struct {
	field    string
	filename string
	data     []byte
}

func multipartRequest(t *testing.T, parts ...part) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/qa", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

type harness struct {
	client *testutil.FakeEmbeddingClient
	model  *testutil.FakeModel
	server *server.Server
}

func newHarness(t *testing.T, config server.Config) *harness {
	t.Helper()

	h := &harness{
		client: testutil.NewFakeEmbeddingClient(128),
		model: &testutil.FakeModel{Reply: func(prompt string) (string, error) {
			if strings.Contains(prompt, "Paris") {
				return "Paris is the capital of France.", nil
			}
			return "The document does not say.", nil
		}},
	}

	emb, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{Client: h.client})
	require.NoError(t, err)
	chat, err := llm.NewWithConfig(llm.ChatConfig{Model: h.model})
	require.NoError(t, err)
	chunker, err := processor.NewWithConfig(processor.ProcessorConfig{})
	require.NoError(t, err)

	p, err := pipeline.NewWithConfig(pipeline.PipelineConfig{
		Chunker:     chunker,
		Builder:     retrieval.NewBuilder(emb, store.MemoryOpener{}),
		Retriever:   retrieval.NewRetriever(emb, 5),
		Synthesizer: chat,
	})
	require.NoError(t, err)

	h.server = server.NewWithConfig(config, p, nil)
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRootAndHealth(t *testing.T) {
	h := newHarness(t, server.Config{})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message": "Question-Answering API is running"}`, rec.Body.String())

	rec = h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "healthy"}`, rec.Body.String())
}

func TestRequestID(t *testing.T) {
	h := newHarness(t, server.Config{})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get(server.HeaderXRequestID))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(server.HeaderXRequestID, "abc-123")
	rec = h.do(req)
	assert.Equal(t, "abc-123", rec.Header().Get(server.HeaderXRequestID))
}

func TestQA(t *testing.T) {
	h := newHarness(t, server.Config{})

	rec := h.do(multipartRequest(t,
		part{"document", "doc.json", []byte(`{"content": "Paris is the capital of France."}`)},
		part{"questions_file", "questions.json", []byte(`{"questions": ["What is the capital of France?", "Who is the mayor?"]}`)},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Answers []map[string]string `json:"answers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Answers, 2)
	assert.Contains(t, resp.Answers[0]["What is the capital of France?"], "Paris")
	assert.Contains(t, resp.Answers[1], "Who is the mayor?")
}

func TestQAPDF(t *testing.T) {
	h := newHarness(t, server.Config{})

	rec := h.do(multipartRequest(t,
		part{"document", "doc.pdf", testutil.BuildPDF("Paris is the capital of France", "Page two", "Page three")},
		part{"questions_file", "questions.json", []byte(`["What is the capital of France?"]`)},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Paris")
}

func TestQAErrors(t *testing.T) {
	doc := part{"document", "doc.json", []byte(`{"text": "Paris is the capital of France."}`)}
	questions := part{"questions_file", "questions.json", []byte(`["What is the capital of France?"]`)}

	tests := []struct {
		name   string
		parts  []part
		status int
		kind   apperr.Kind
	}{
		{"empty questions", []part{doc, {"questions_file", "q.json", []byte(`{"questions": []}`)}}, http.StatusBadRequest, apperr.KindValidation},
		{"missing document", []part{questions}, http.StatusBadRequest, apperr.KindValidation},
		{"missing questions", []part{doc}, http.StatusBadRequest, apperr.KindValidation},
		{"unsupported format", []part{{"document", "setup.exe", []byte("MZ")}, questions}, http.StatusUnsupportedMediaType, apperr.KindUnsupportedFormat},
		{"malformed pdf", []part{{"document", "doc.pdf", []byte("not a pdf")}, questions}, http.StatusUnprocessableEntity, apperr.KindMalformedDocument},
		{"malformed json", []part{{"document", "doc.json", []byte(`{`)}, questions}, http.StatusUnprocessableEntity, apperr.KindMalformedDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, server.Config{})

			rec := h.do(multipartRequest(t, tt.parts...))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(tt.kind), decodeError(t, rec).Error.Kind)
			assert.Zero(t, h.client.Calls())
			assert.Empty(t, h.model.Prompts())
		})
	}
}

func TestQANotMultipart(t *testing.T) {
	h := newHarness(t, server.Config{})

	req := httptest.NewRequest(http.MethodPost, "/qa", strings.NewReader(`{"questions": []}`))
	req.Header.Set("Content-Type", "application/json")
	rec := h.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.KindValidation), decodeError(t, rec).Error.Kind)
}

func TestQAUploadTooLarge(t *testing.T) {
	h := newHarness(t, server.Config{MaxUploadBytes: 1024})

	rec := h.do(multipartRequest(t,
		part{"document", "doc.json", []byte(`{"text": "` + strings.Repeat("a", 4096) + `"}`)},
		part{"questions_file", "questions.json", []byte(`["q"]`)},
	))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(apperr.KindValidation), decodeError(t, rec).Error.Kind)
	assert.Zero(t, h.client.Calls())
}

func TestQAProviderErrorsAreHidden(t *testing.T) {
	h := newHarness(t, server.Config{})
	h.model.Reply = func(string) (string, error) {
		return "", testutil.ErrFake
	}

	rec := h.do(multipartRequest(t,
		part{"document", "doc.json", []byte(`{"text": "Paris is the capital of France."}`)},
		part{"questions_file", "questions.json", []byte(`["What is the capital of France?"]`)},
	))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeError(t, rec)
	assert.Equal(t, string(apperr.KindLLMService), resp.Error.Kind)
	assert.NotContains(t, resp.Error.Message, testutil.ErrFake.Error())
}

func TestQAEmbeddingError(t *testing.T) {
	h := newHarness(t, server.Config{})
	h.client.Fail = true

	rec := h.do(multipartRequest(t,
		part{"document", "doc.json", []byte(`{"text": "Paris is the capital of France."}`)},
		part{"questions_file", "questions.json", []byte(`["What is the capital of France?"]`)},
	))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, string(apperr.KindEmbeddingService), decodeError(t, rec).Error.Kind)
}

func TestQATimeout(t *testing.T) {
	h := newHarness(t, server.Config{RequestTimeout: 50 * time.Millisecond})
	h.model.Reply = func(string) (string, error) {
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	}

	rec := h.do(multipartRequest(t,
		part{"document", "doc.json", []byte(`{"text": "Paris is the capital of France."}`)},
		part{"questions_file", "questions.json", []byte(`["one", "two"]`)},
	))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, string(apperr.KindTimeout), decodeError(t, rec).Error.Kind)
}

type panicRunner struct{}

func (panicRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	panic("boom")
}

func TestRecovery(t *testing.T) {
	s := server.NewWithConfig(server.Config{}, panicRunner{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t,
		part{"document", "doc.json", []byte(`{"text": "x"}`)},
		part{"questions_file", "questions.json", []byte(`["q"]`)},
	))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(apperr.KindInternal), decodeError(t, rec).Error.Kind)
}

func TestListenAndServeShutsDown(t *testing.T) {
	s := server.NewWithConfig(server.Config{Addr: "127.0.0.1:0"}, panicRunner{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
