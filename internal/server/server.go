// Package server provides the HTTP API for kiji.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/pipeline"
	"github.com/hyperjump/kiji/internal/retrieval"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/pkg/utils"
)

const (
	requestTimeout = 60 * time.Second
	ingestTimeout  = 30 * time.Minute
	// maxIngestBytes bounds one POST /api/v1/ingest body.
	maxIngestBytes = 64 << 20
)

// Ingester runs a batch of raw payloads through the pipeline.
type Ingester interface {
	RunBatch(ctx context.Context, payloads []*models.RawPayload) (*pipeline.BatchReport, error)
}

// WatchService is the inbox watcher surface the server manages.
type WatchService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the kiji API.
type Server struct {
	engine      *retrieval.Engine
	store       storage.Store
	ingester    Ingester
	highlighter *retrieval.Highlighter
	config      *config.Config
	logger      *zap.Logger
	server      *http.Server

	watch      WatchService
	configPath string
	configMu   sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithHighlighter lets POST /api/v1/highlights/{category}/refresh recompute highlights.
func WithHighlighter(h *retrieval.Highlighter) Option {
	return func(s *Server) { s.highlighter = h }
}

// WithWatch enables the inbox directory endpoints. Changes are persisted to configPath
// when it is set.
func WithWatch(watch WatchService, configPath string) Option {
	return func(s *Server) {
		s.watch = watch
		s.configPath = configPath
	}
}

// NewServer creates a server with the given dependencies. ingester may be nil, in which
// case POST /api/v1/ingest answers 501.
func NewServer(
	engine *retrieval.Engine,
	store storage.Store,
	ingester Ingester,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	logger = utils.Named(logger, "server")
	s := &Server{
		engine:   engine,
		store:    store,
		ingester: ingester,
		config:   cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.With(middleware.Timeout(ingestTimeout)).Post("/api/v1/ingest", s.handleIngest)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Post("/api/v1/query", s.handleQuery)
		r.Get("/api/v1/articles", s.handleListArticles)
		r.Get("/api/v1/articles/{id}", s.handleGetArticle)
		r.Get("/api/v1/highlights/{category}", s.handleHighlights)
		r.Post("/api/v1/highlights/{category}/refresh", s.handleHighlightsRefresh)
		r.Get("/api/v1/topics/{category}", s.handleTopics)
		r.Get("/api/v1/status", s.handleStatus)
		r.Get("/api/v1/inbox/directories", s.handleInboxList)
		r.Post("/api/v1/inbox/directories", s.handleInboxAdd)
		r.Delete("/api/v1/inbox/directories", s.handleInboxRemove)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
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

type ctxKey int

const requestIDKey ctxKey = 0

// requestID tags every request with an id, reusing the caller's X-Request-ID when given.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
