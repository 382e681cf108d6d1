// Package pipeline runs a question answering request from uploaded bytes to
// ordered answers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/apperr"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/loader"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/store"
)

type State string

const (
	StateReceived       State = "received"
	StateValidated      State = "validated"
	StateDocumentLoaded State = "document_loaded"
	StateIndexed        State = "indexed"
	StateAnswering      State = "answering"
	StateCompleted      State = "completed"
	StateErrored        State = "errored"
)

// Request is one uploaded document plus its questions file.
type Request struct {
	DocumentName  string
	Document      []byte
	QuestionsName string
	Questions     []byte
}

type Result struct {
	Answers   []models.Answer
	Fragments int
	State     State
}

// Error records the state a request was in when it failed.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("request failed while %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Observer is notified as a request moves through its states.
type Observer interface {
	OnState(state State)
	OnAnswer(i, n int)
}

type IndexBuilder interface {
	Build(ctx context.Context, fragments []models.Fragment) (store.Index, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, index store.Index, question string, k int) ([]models.Fragment, error)
}

type PipelineConfig struct {
	Chunker     types.Chunker
	Builder     IndexBuilder
	Retriever   Retriever
	Synthesizer types.Synthesizer
	TopK        int
	Logger      *zap.Logger
	Observer    Observer
}

type Pipeline struct {
	config PipelineConfig
	log    *zap.Logger
}

func NewWithConfig(config PipelineConfig) (*Pipeline, error) {
	if config.Chunker == nil || config.Builder == nil || config.Retriever == nil || config.Synthesizer == nil {
		return nil, fmt.Errorf("chunker, builder, retriever and synthesizer are required")
	}
	return &Pipeline{
		config: config,
		log:    logger.OrNop(config.Logger),
	}, nil
}

// run tracks the state of a single request.
type run struct {
	p     *Pipeline
	state State
	start time.Time
}

func (r *run) enter(state State) {
	r.state = state
	r.p.log.Debug("pipeline state",
		zap.String("state", string(state)),
		zap.Duration("elapsed", time.Since(r.start)),
	)
	if r.p.config.Observer != nil {
		r.p.config.Observer.OnState(state)
	}
}

func (r *run) fail(ctx context.Context, err error) error {
	failed := r.state
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && apperr.KindOf(err) != apperr.KindTimeout {
		err = apperr.Wrap(apperr.KindTimeout, "request timed out", err)
	}
	r.enter(StateErrored)
	return &Error{State: failed, Err: err}
}

// Run validates req, indexes its document and answers every question in
// order. The first failure aborts the request.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	r := &run{p: p, start: time.Now()}
	r.enter(StateReceived)

	questions, err := validate(req)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	r.enter(StateValidated)

	docs, err := loader.Load(ctx, req.DocumentName, req.Document)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	fragments, err := p.config.Chunker.Split(docs)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	if len(fragments) == 0 {
		return nil, r.fail(ctx, apperr.MalformedDocument("document contains no text", nil))
	}
	r.enter(StateDocumentLoaded)

	index, err := p.config.Builder.Build(ctx, fragments)
	if err != nil {
		return nil, r.fail(ctx, err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			p.log.Warn("failed to close index", zap.Error(err))
		}
	}()
	r.enter(StateIndexed)

	r.enter(StateAnswering)
	answers := make([]models.Answer, 0, len(questions))
	for i, question := range questions {
		related, err := p.config.Retriever.Retrieve(ctx, index, question, p.config.TopK)
		if err != nil {
			return nil, r.fail(ctx, err)
		}

		answer, err := p.config.Synthesizer.Answer(ctx, question, related)
		if err != nil {
			return nil, r.fail(ctx, err)
		}

		answers = append(answers, models.Answer{Question: question, Answer: answer})
		if p.config.Observer != nil {
			p.config.Observer.OnAnswer(i+1, len(questions))
		}
	}

	r.enter(StateCompleted)
	p.log.Info("request completed",
		zap.Int("questions", len(questions)),
		zap.Int("fragments", len(fragments)),
		zap.Duration("elapsed", time.Since(r.start)),
	)

	return &Result{
		Answers:   answers,
		Fragments: len(fragments),
		State:     StateCompleted,
	}, nil
}

// validate checks both parts are present, parses the questions and rejects
// unsupported document formats before any document work starts.
func validate(req Request) ([]string, error) {
	if req.DocumentName == "" && len(req.Document) == 0 {
		return nil, apperr.Validation("document file is required")
	}
	if req.QuestionsName == "" && len(req.Questions) == 0 {
		return nil, apperr.Validation("questions file is required")
	}
	if len(req.Document) == 0 {
		return nil, apperr.Validation("document file is empty")
	}
	if len(req.Questions) == 0 {
		return nil, apperr.Validation("questions file is empty")
	}

	questions, err := loader.ParseQuestions(req.QuestionsName, req.Questions)
	if err != nil {
		return nil, err
	}

	if _, err := loader.CheckFormat(req.DocumentName); err != nil {
		return nil, err
	}
	return questions, nil
}
