// Package server exposes the question answering pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/pkg/pipeline"
)

// Runner executes one question answering request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type Config struct {
	Addr            string
	RequestTimeout  time.Duration
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

type Server struct {
	config Config
	runner Runner
	log    *zap.Logger
	engine *gin.Engine
}

func NewWithConfig(config Config, runner Runner, log *zap.Logger) *Server {
	if config.Addr == "" {
		config.Addr = ":8000"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 120 * time.Second
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = 32 << 20
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config: config,
		runner: runner,
		log:    logger.OrNop(log),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Logger(s.log), Recovery(s.log))

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.POST("/qa", s.handleQA)

	return r
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
