// Package server provides the HTTP API for docvec.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docvec/internal/config"
	"github.com/hyperjump/docvec/internal/ingest"
	"github.com/hyperjump/docvec/internal/vector"
	"github.com/hyperjump/docvec/internal/vectorstore"
)

// VectorStore is the part of vectorstore.Manager the API reads and persists through.
type VectorStore interface {
	Persist(ctx context.Context) error
	Search(ctx context.Context, query string, k int) ([]vector.Hit, error)
	Status() vectorstore.Status
}

// WatchService reports the directories being watched.
type WatchService interface {
	Directories() []string
}

// Server is the HTTP server for the docvec API.
type Server struct {
	ingest  *ingest.Service
	vectors VectorStore
	config  *config.Config
	watch   WatchService
	logger  *zap.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithWatcher exposes the watched directories in the status response.
func WithWatcher(w WatchService) Option {
	return func(s *Server) { s.watch = w }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	svc *ingest.Service,
	vectors VectorStore,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ingest:  svc,
		vectors: vectors,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Duration(s.config.Server.TimeoutSeconds) * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents/upload", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)

		r.Post("/vectordb/update", s.handleUpdate)
		r.Post("/vectordb/persist", s.handlePersist)
		r.Get("/vectordb/status", s.handleStatus)

		r.Post("/search", s.handleSearch)
	})
	return r
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start starts the HTTP server and blocks until it stops. After Stop it returns nil.
func (s *Server) Start() error {
	s.logger.Info("Starting server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
