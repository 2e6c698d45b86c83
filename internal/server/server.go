// Package server provides the HTTP API over the image index.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/gazou/internal/config"
	"github.com/hyperjump/gazou/internal/history"
	"github.com/hyperjump/gazou/internal/index"
	"github.com/hyperjump/gazou/internal/keyword"
)

// Server is the HTTP front-end for the Gazou API.
type Server struct {
	index   *index.ImageIndex
	labels  *keyword.LabelIndex
	history *history.Store
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies. labels and hist may
// be nil; the corresponding features are then disabled.
func NewServer(
	idx *index.ImageIndex,
	labels *keyword.LabelIndex,
	hist *history.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		index:   idx,
		labels:  labels,
		history: hist,
		config:  cfg,
		logger:  logger,
	}
}

// router assembles the chi router with all API routes.
func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute)) // cache builds embed every new file
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/search", s.handleSearch)
	r.Post("/api/v1/cache/build", s.handleBuildCache)
	r.Get("/api/v1/cache", s.handleCacheInfo)
	r.Get("/api/v1/models", s.handleModels)
	r.Post("/api/v1/backend", s.handleSetBackend)
	r.Post("/api/v1/models/{id}/download", s.handleModelDownload)
	r.Post("/api/v1/models/{id}/load", s.handleModelLoad)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
