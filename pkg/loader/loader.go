// Package loader turns uploaded files into documents and question lists.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"

	"github.com/xhad/docqa/internal/apperr"
	"github.com/xhad/docqa/internal/models"
)

type Format string

const (
	FormatPDF     Format = "pdf"
	FormatJSON    Format = "json"
	FormatUnknown Format = ""
)

// Metadata keys attached to loaded documents.
const (
	MetaPage   = "page"
	MetaSource = "source"
)

// textKeys are looked up in order when a JSON document is an object.
var textKeys = []string{"text", "content", "document"}

// FormatOf resolves the declared format of filename from its extension.
func FormatOf(filename string) Format {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "pdf":
		return FormatPDF
	case "json":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// CheckFormat fails with an unsupported format error unless filename declares
// a format Load understands.
func CheckFormat(filename string) (Format, error) {
	format := FormatOf(filename)
	if format == FormatUnknown {
		ext := filepath.Ext(filename)
		if ext == "" {
			ext = filename
		}
		return format, apperr.UnsupportedFormat("unsupported file type %q, supported types: PDF, JSON", ext)
	}
	return format, nil
}

// Load parses data according to the format declared by filename.
func Load(ctx context.Context, filename string, data []byte) ([]models.Document, error) {
	format, err := CheckFormat(filename)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatPDF:
		return loadPDF(ctx, filename, data)
	default:
		return loadJSON(filename, data)
	}
}

func loadPDF(ctx context.Context, filename string, data []byte) (docs []models.Document, err error) {
	// The PDF reader panics on some broken object graphs.
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, apperr.MalformedDocument("error reading PDF file", fmt.Errorf("%v", r))
		}
	}()

	pages, err := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data))).Load(ctx)
	if err != nil {
		return nil, apperr.MalformedDocument("error reading PDF file", err)
	}

	for i, page := range pages {
		if strings.TrimSpace(page.PageContent) == "" {
			continue
		}
		num := i + 1
		if n, ok := page.Metadata[MetaPage].(int); ok {
			num = n
		}
		docs = append(docs, models.Document{
			Content: page.PageContent,
			Metadata: map[string]interface{}{
				MetaPage:   num,
				MetaSource: filename,
			},
		})
	}

	if len(docs) == 0 {
		return nil, apperr.MalformedDocument("PDF file contains no extractable text", nil)
	}
	return docs, nil
}

func loadJSON(filename string, data []byte) ([]models.Document, error) {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, apperr.MalformedDocument("error parsing JSON file", err)
	}

	text, err := jsonText(value)
	if err != nil {
		return nil, apperr.MalformedDocument("error reading JSON file", err)
	}

	return []models.Document{{
		Content:  text,
		Metadata: map[string]interface{}{MetaSource: filename},
	}}, nil
}

func jsonText(value interface{}) (string, error) {
	if obj, ok := value.(map[string]interface{}); ok {
		for _, key := range textKeys {
			if s, ok := obj[key].(string); ok {
				return s, nil
			}
		}
	}

	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
