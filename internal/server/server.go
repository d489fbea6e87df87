// Package server exposes the question answering pipeline over HTTP. The
// /ask endpoint routes corpus-specific and document-specific questions to
// the processor; /embed returns raw query embeddings for the frontend's
// own similarity lookups.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"clustertalk/internal/config"
	"clustertalk/internal/logger"
)

// Question types accepted by /ask.
const (
	QuestionTypeCorpus   = "corpus-specific"
	QuestionTypeDocument = "document-specific"
)

const requestTimeout = 60 * time.Second

// Answerer is the processing surface the server exposes.
type Answerer interface {
	AnswerDocumentQuestion(ctx context.Context, question string, documentIDs []string) (string, []string, error)
	AnswerCorpusQuestion(ctx context.Context, question string, clusterLabels []string) (string, []string, error)
	EncodeText(ctx context.Context, text string) ([]float64, error)
}

// Server is the RAG HTTP server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	processor  Answerer
	config     config.Server
}

// New creates the HTTP server around a processor.
func New(processor Answerer, cfg config.Server) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		processor: processor,
		config:    cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(requestTimeout))

	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Post("/ask", s.handleAsk)
	s.router.Post("/embed", s.handleEmbed)
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown stops the server, letting in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the chi router. Used by tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
