// Package server provides the HTTP API for docsight.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/docsight/internal/answer"
	"github.com/hyperjump/docsight/internal/blob"
	"github.com/hyperjump/docsight/internal/config"
	"github.com/hyperjump/docsight/internal/models"
	"github.com/hyperjump/docsight/internal/pipeline"
	"github.com/hyperjump/docsight/internal/storage"
	"github.com/hyperjump/docsight/pkg/utils"
)

// Ingestor accepts uploads and removes documents.
type Ingestor interface {
	Upload(ctx context.Context, req pipeline.UploadRequest) (*models.Document, error)
	Delete(ctx context.Context, docID string) error
}

// Searcher runs searches.
type Searcher interface {
	Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error)
}

// WatchService manages inbox directories at runtime.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Deps are the collaborators behind the API. Chat and Watch are optional.
type Deps struct {
	Store    storage.Storage
	Blobs    blob.Store
	Ingestor Ingestor
	Search   Searcher
	Chat     *answer.ChatService
	Watch    WatchService
}

// Server is the HTTP server for the docsight API.
type Server struct {
	store    storage.Storage
	blobs    blob.Store
	ingestor Ingestor
	search   Searcher
	chat     *answer.ChatService
	watch    WatchService

	config     *config.Config
	configPath string
	configMu   sync.Mutex
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server. configPath, when set, receives watch directory changes.
func NewServer(deps Deps, cfg *config.Config, configPath string, logger *zap.Logger) *Server {
	return &Server{
		store:      deps.Store,
		blobs:      deps.Blobs,
		ingestor:   deps.Ingestor,
		search:     deps.Search,
		chat:       deps.Chat,
		watch:      deps.Watch,
		config:     cfg,
		configPath: configPath,
		logger:     utils.LoggerOrNop(logger),
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.session)

			r.Post("/documents", s.handleUpload)
			r.Get("/documents", s.handleListDocuments)
			r.Get("/documents/{id}", s.handleGetDocument)
			r.Get("/documents/{id}/chunks", s.handleGetChunks)
			r.Get("/documents/{id}/tags", s.handleGetTags)
			r.Delete("/documents/{id}", s.handleDeleteDocument)

			r.Post("/search", s.handleSearch)
			r.Post("/answer", s.handleAnswer)
			r.Post("/chat", s.handleChat)
			r.Get("/conversations/{id}/messages", s.handleListMessages)
		})

		r.Get("/watch/directories", s.handleWatchDirectoriesList)
		r.Post("/watch/directories", s.handleWatchDirectoriesAdd)
		r.Delete("/watch/directories", s.handleWatchDirectoriesRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
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

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
