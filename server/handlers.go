package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xhad/docqa/internal/apperr"
	"github.com/xhad/docqa/pkg/pipeline"
)

const (
	fieldDocument  = "document"
	fieldQuestions = "questions_file"
)

type errorBody struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Question-Answering API is running"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleQA(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)

	req, err := s.readRequest(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
	defer cancel()

	res, err := s.runner.Run(ctx, req)
	if err != nil {
		s.fail(c, err)
		return
	}

	answers := make([]map[string]string, len(res.Answers))
	for i, a := range res.Answers {
		answers[i] = map[string]string{a.Question: a.Answer}
	}
	c.JSON(http.StatusOK, gin.H{"answers": answers})
}

func (s *Server) readRequest(c *gin.Context) (pipeline.Request, error) {
	var req pipeline.Request

	if err := c.Request.ParseMultipartForm(32 << 10); err != nil {
		return req, formError(err, s.config.MaxUploadBytes)
	}

	var err error
	if req.DocumentName, req.Document, err = readPart(c, fieldDocument); err != nil {
		return req, formError(err, s.config.MaxUploadBytes)
	}
	if req.QuestionsName, req.Questions, err = readPart(c, fieldQuestions); err != nil {
		return req, formError(err, s.config.MaxUploadBytes)
	}
	return req, nil
}

func readPart(c *gin.Context, field string) (string, []byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil, apperr.Validation("missing %q file field", field)
		}
		return "", nil, err
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", nil, err
	}
	return fh.Filename, data, nil
}

// formError maps multipart parsing failures onto validation errors.
func formError(err error, limit int64) error {
	var maxErr *http.MaxBytesError
	switch {
	case apperr.KindOf(err) == apperr.KindValidation:
		return err
	case errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large"):
		return apperr.Validation("upload exceeds the %d byte limit", limit)
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, multipart.ErrMessageTooLarge):
		return apperr.Wrap(apperr.KindValidation, "request must be multipart/form-data", err)
	default:
		return apperr.Wrap(apperr.KindValidation, fmt.Sprintf("invalid multipart form: %v", err), err)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("request_id", GetRequestID(c)),
		zap.Error(err),
	}
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		fields = append(fields, zap.String("state", string(perr.State)))
	}

	if apperr.HTTPStatus(kind) >= http.StatusInternalServerError {
		s.log.Error("request failed", fields...)
	} else {
		s.log.Warn("request rejected", fields...)
	}
	writeError(c, err)
}

func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.AbortWithStatusJSON(apperr.HTTPStatus(kind), gin.H{
		"error": errorBody{Kind: kind, Message: apperr.MessageOf(err)},
	})
}
