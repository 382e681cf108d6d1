// Package processor splits loaded documents into bounded, overlapping
// fragments ready for embedding.
package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/xhad/docqa/internal/models"
)

// DefaultSeparators are tried in order: paragraph breaks, newlines, sentence
// ends, spaces, then single characters.
var DefaultSeparators = []string{"\n\n\n", "\n\n", "\n", ". ", " ", ""}

// ProcessorConfig sizes fragments in runes. ChunkOverlap falls back to 200
// only when ChunkSize is also unset, so an explicit size with no overlap
// produces fragments that do not overlap.
type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
		if config.ChunkOverlap == 0 {
			config.ChunkOverlap = 200
		}
	}
	if len(config.Separators) == 0 {
		config.Separators = DefaultSeparators
	}

	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be between 0 and chunk size")
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(config.ChunkSize),
		textsplitter.WithChunkOverlap(config.ChunkOverlap),
		textsplitter.WithSeparators(config.Separators),
		textsplitter.WithKeepSeparator(true),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)

	return &Processor{
		config:   config,
		splitter: splitter,
	}, nil
}

// Split cuts every document into fragments of at most ChunkSize runes.
// Documents that already fit are kept whole; blank documents are dropped.
func (p *Processor) Split(docs []models.Document) ([]models.Fragment, error) {
	var fragments []models.Fragment

	for _, doc := range docs {
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}

		if utf8.RuneCountInString(doc.Content) <= p.config.ChunkSize {
			fragments = append(fragments, models.Fragment{
				Content:  doc.Content,
				Metadata: models.CopyMetadata(doc.Metadata),
			})
			continue
		}

		chunks, err := p.splitter.SplitText(doc.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to split document: %w", err)
		}

		for _, chunk := range chunks {
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			fragments = append(fragments, models.Fragment{
				Content:  chunk,
				Metadata: models.CopyMetadata(doc.Metadata),
			})
		}
	}

	return fragments, nil
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}
