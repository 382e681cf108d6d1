package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	cfgPkg "github.com/xhad/docqa/pkg/config"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/pipeline"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/retrieval"
	"github.com/xhad/docqa/pkg/store"
)

// loadConfig reads and validates the configuration file at path.
func loadConfig(path string) (*cfgPkg.Config, error) {
	cfg, err := cfgPkg.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid config:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cfg, nil
}

func newLogger(cfg *cfgPkg.Config) (*zap.Logger, error) {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

// app holds the components shared by every request.
type app struct {
	pipeline *pipeline.Pipeline
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *cfgPkg.Config, log *zap.Logger, observer pipeline.Observer) (*app, error) {
	a := &app{}

	provider := llm.ProviderConfig{
		Provider:       cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        cfg.LLM.Timeout,
	}
	limiter := llm.NewLimiter(cfg.LLM.RequestsPerSecond)

	embeddingClient, err := llm.NewEmbeddingClient(provider)
	if err != nil {
		return nil, err
	}
	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Client:    embeddingClient,
		BatchSize: cfg.Retrieval.EmbedBatchSize,
		Limiter:   limiter,
	})
	if err != nil {
		return nil, err
	}

	model, err := llm.NewChatModel(provider)
	if err != nil {
		return nil, err
	}
	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:       model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Limiter:     limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	processorConfig := processor.ProcessorConfig{ChunkSize: cfg.Processor.ChunkSize}
	if cfg.Processor.ChunkOverlap != nil {
		processorConfig.ChunkOverlap = *cfg.Processor.ChunkOverlap
	}
	chunker, err := processor.NewWithConfig(processorConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize processor: %w", err)
	}

	var opener store.Opener = store.MemoryOpener{}
	if cfg.Retrieval.Backend == cfgPkg.BackendPGVector {
		vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		a.closers = append(a.closers, vectorStore.Close)
		opener = vectorStore
	}

	a.pipeline, err = pipeline.NewWithConfig(pipeline.PipelineConfig{
		Chunker:     chunker,
		Builder:     retrieval.NewBuilder(embedder, opener),
		Retriever:   retrieval.NewRetriever(embedder, cfg.Retrieval.TopK),
		Synthesizer: chatEngine,
		TopK:        cfg.Retrieval.TopK,
		Logger:      log,
		Observer:    observer,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info("pipeline ready",
		zap.String("provider", provider.Provider),
		zap.String("model", provider.Model),
		zap.String("embedding_model", provider.EmbeddingModel),
		zap.String("backend", cfg.Retrieval.Backend),
	)
	return a, nil
}
