package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/xhad/docqa/internal/apperr"
	"github.com/xhad/docqa/internal/models"
)

const (
	defaultSystemTemplate = `You are a helpful assistant that answers questions about a document.
Answer strictly from the numbered context excerpts you are given.
If the answer is not in the context, say that the document does not contain the answer.
Do not make up information that is not in the context.`

	defaultContextTemplate = "Context from document:\n%s\nQuestion: %s\n\nAnswer based on the context above:"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Model           llms.Model
	Temperature     float64
	MaxTokens       int
	SystemTemplate  string
	ContextTemplate string // formatted with the context block and the question
	Limiter         *rate.Limiter
}

// ChatEngine answers questions from retrieved fragments.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return nil, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = defaultSystemTemplate
	}
	if config.ContextTemplate == "" {
		config.ContextTemplate = defaultContextTemplate
	}

	return &ChatEngine{
		config: config,
		llm:    config.Model,
	}, nil
}

// Answer asks the model to answer question using only fragments, which are
// presented in the given order.
func (ce *ChatEngine) Answer(ctx context.Context, question string, fragments []models.Fragment) (string, error) {
	if err := wait(ctx, ce.config.Limiter); err != nil {
		return "", apperr.LLMService(err)
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ce.config.SystemTemplate),
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(ce.config.ContextTemplate, BuildContext(fragments), question)),
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)
	if err != nil {
		return "", apperr.LLMService(err)
	}
	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", apperr.LLMService(fmt.Errorf("no choices in model response"))
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}

// BuildContext renders fragments as a numbered list, labelling each with its
// page and source when known.
func BuildContext(fragments []models.Fragment) string {
	var contextBuilder strings.Builder

	for i, f := range fragments {
		contextBuilder.WriteString(fmt.Sprintf("[%d]%s\n%s\n\n", i+1, label(f.Metadata), strings.TrimSpace(f.Content)))
	}

	return contextBuilder.String()
}

func label(meta map[string]interface{}) string {
	var parts []string
	if page, ok := meta["page"]; ok {
		parts = append(parts, fmt.Sprintf("page %v", page))
	}
	if source, ok := meta["source"].(string); ok && source != "" {
		parts = append(parts, source)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
