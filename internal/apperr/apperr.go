// Package apperr defines the error kinds surfaced by the question answering
// pipeline and their mapping onto HTTP status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindUnsupportedFormat Kind = "unsupported_format"
	KindMalformedDocument Kind = "malformed_document"
	KindEmbeddingService  Kind = "embedding_service_error"
	KindLLMService        Kind = "llm_service_error"
	KindTimeout           Kind = "timeout"
	KindInternal          Kind = "internal_error"
)

// Error carries a kind, a message that is safe to show to callers, and the
// underlying cause which is only meant for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func UnsupportedFormat(format string, args ...interface{}) *Error {
	return New(KindUnsupportedFormat, fmt.Sprintf(format, args...))
}

func MalformedDocument(message string, err error) *Error {
	return Wrap(KindMalformedDocument, message, err)
}

// EmbeddingService hides the provider's error text behind a fixed summary.
func EmbeddingService(err error) *Error {
	return Wrap(KindEmbeddingService, classify("embedding provider", err), err)
}

// LLMService hides the provider's error text behind a fixed summary.
func LLMService(err error) *Error {
	return Wrap(KindLLMService, classify("language model provider", err), err)
}

func classify(provider string, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return provider + " timed out"
	case errors.Is(err, context.Canceled):
		return provider + " call was cancelled"
	default:
		return provider + " request failed"
	}
}

// KindOf returns the kind of the first *Error in err's chain. Errors that
// carry no kind are reported as internal, except context deadlines.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return "internal server error"
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case KindMalformedDocument:
		return http.StatusUnprocessableEntity
	case KindEmbeddingService, KindLLMService:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
