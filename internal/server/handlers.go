package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/retrieval"
	"github.com/hyperjump/kiji/internal/source"
	"github.com/hyperjump/kiji/internal/storage"
)

// Query outcome statuses.
const (
	StatusAnswered  = "answered"
	StatusNoResults = "no_results"
	StatusDegraded  = "degraded"
)

const (
	msgNoResults   = "No stored article is relevant enough to answer this question."
	msgReembedding = "Search is degraded while articles are re-embedded for the current model. Try again later."
	msgUnavailable = "The answer service is temporarily unavailable. Try again shortly."

	defaultListLimit = 20
	maxListLimit     = 200
)

type queryRequest struct {
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
	NoScope  bool   `json:"no_scope,omitempty"`
}

type queryResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Message   string `json:"message,omitempty"`
	*models.QueryResult
	BestScore *float64 `json:"best_score,omitempty"`
	Floor     *float64 `json:"floor,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	q := &models.Query{Text: req.Query, TopK: req.TopK, NoScope: req.NoScope}
	if req.Category != "" {
		c, err := models.ParseCategory(req.Category)
		if err != nil {
			s.respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		q.Category = c
	}
	var err error
	if q.Range, err = parseRange(req.From, req.To); err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := q.Validate(s.config.Retrieval.TopK, s.config.Retrieval.MaxTopK); err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("query request", zap.String("query", q.Text), zap.String("category", string(q.Category)), zap.Int("top_k", q.TopK))

	result, err := s.engine.Answer(r.Context(), q)
	resp := queryResponse{RequestID: RequestID(r.Context())}
	var noResults *models.NoRelevantResultsError
	switch {
	case err == nil:
		resp.Status = StatusAnswered
		resp.QueryResult = result
		s.respondJSON(w, http.StatusOK, resp)
	case errors.As(err, &noResults):
		resp.Status = StatusNoResults
		resp.Message = msgNoResults
		resp.BestScore = &noResults.BestScore
		resp.Floor = &noResults.Floor
		s.respondJSON(w, http.StatusOK, resp)
	case models.IsVersionMismatch(err):
		s.logger.Warn("query degraded", zap.String("request_id", resp.RequestID), zap.Error(err))
		resp.Status = StatusDegraded
		resp.Message = msgReembedding
		s.respondJSON(w, http.StatusServiceUnavailable, resp)
	case retrieval.IsDegraded(err):
		s.logger.Warn("query degraded", zap.String("request_id", resp.RequestID), zap.Error(err))
		resp.Status = StatusDegraded
		resp.Message = msgUnavailable
		s.respondJSON(w, http.StatusServiceUnavailable, resp)
	default:
		s.logger.Error("query failed", zap.String("request_id", resp.RequestID), zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	var category models.Category
	if v := params.Get("category"); v != "" {
		c, err := models.ParseCategory(v)
		if err != nil {
			s.respondError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		category = c
	}
	dr, err := parseRange(params.Get("from"), params.Get("to"))
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var page models.Page
	if page.Limit, err = intParam(params.Get("limit")); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	if page.Offset, err = intParam(params.Get("offset")); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid offset")
		return
	}
	page = page.Normalize(defaultListLimit, maxListLimit)

	articles, err := s.store.ListByCategory(r.Context(), category, dr, page)
	if err != nil {
		s.logger.Error("list articles failed", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if articles == nil {
		articles = []*models.EnrichedArticle{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"articles": articles,
		"count":    len(articles),
		"offset":   page.Offset,
		"limit":    page.Limit,
	})
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	article, err := s.store.Get(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		s.respondError(w, r, http.StatusNotFound, "article not found")
		return
	}
	if err != nil {
		s.logger.Error("get article failed", zap.String("article_id", id), zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, article)
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	c, ok := s.highlightCategory(w, r)
	if !ok {
		return
	}
	s.respondFeatured(w, r, c)
}

func (s *Server) handleHighlightsRefresh(w http.ResponseWriter, r *http.Request) {
	c, ok := s.highlightCategory(w, r)
	if !ok {
		return
	}
	if s.highlighter == nil {
		s.respondError(w, r, http.StatusNotImplemented, "highlights not enabled")
		return
	}
	if _, err := s.highlighter.Refresh(r.Context(), c); err != nil {
		s.logger.Error("refresh highlights failed", zap.String("category", string(c)), zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondFeatured(w, r, c)
}

func (s *Server) highlightCategory(w http.ResponseWriter, r *http.Request) (models.Category, bool) {
	c, err := models.ParseCategory(chi.URLParam(r, "category"))
	if err != nil || c == models.CategoryUncategorized {
		s.respondError(w, r, http.StatusBadRequest, "unknown category")
		return "", false
	}
	return c, true
}

func (s *Server) respondFeatured(w http.ResponseWriter, r *http.Request, c models.Category) {
	articles, err := s.store.Featured(r.Context(), c)
	if err != nil {
		s.logger.Error("featured articles failed", zap.String("category", string(c)), zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if articles == nil {
		articles = []*models.EnrichedArticle{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"category": c,
		"articles": articles,
	})
}

// handleTopics lists the topic clusters of a category, each as its article IDs, newest first.
func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	c, ok := s.highlightCategory(w, r)
	if !ok {
		return
	}
	clusters, err := s.store.TopicClusters(r.Context(), c)
	if err != nil {
		s.logger.Error("topic clusters failed", zap.String("category", string(c)), zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"category": c,
		"clusters": clusters,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.respondError(w, r, http.StatusNotImplemented, "ingest not enabled")
		return
	}
	payloads, err := source.ReadPayloads(http.MaxBytesReader(w, r.Body, maxIngestBytes))
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(payloads) == 0 {
		s.respondError(w, r, http.StatusBadRequest, "no payloads in request body")
		return
	}
	s.logger.Debug("ingest request", zap.Int("payloads", len(payloads)))
	report, err := s.ingester.RunBatch(r.Context(), payloads)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, r, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("status: store stats failed", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"store": stats,
	}

	cfg := s.config
	configInfo := map[string]interface{}{
		"categories":           cfg.Categories,
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_version":    cfg.Embedding.ModelVersion,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"completion_provider":  cfg.Completion.Provider,
		"similarity_threshold": cfg.Dedup.SimilarityThreshold,
		"similarity_floor":     cfg.Retrieval.SimilarityFloor,
		"database_path":        cfg.Storage.DatabasePath,
		"bleve_index_path":     cfg.Storage.BleveIndexPath,
		"vector_snapshot_path": cfg.Storage.VectorSnapshotPath,
		"schedule":             cfg.Schedule.Cron,
		"schedule_enabled":     cfg.Schedule.Enabled,
	}
	diskBytes, err := storage.DiskUsageBytes(
		cfg.Storage.DatabasePath,
		cfg.Storage.BleveIndexPath,
		cfg.Storage.VectorSnapshotPath,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	resp["config"] = configInfo
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInboxList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, r, http.StatusNotImplemented, "inbox watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type inboxAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleInboxAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, r, http.StatusNotImplemented, "inbox watch not enabled")
		return
	}
	var req inboxAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, r, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, r, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, r, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("inbox add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("inbox add directory failed", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistInbox()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleInboxRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, r, http.StatusNotImplemented, "inbox watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, r, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("inbox remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("inbox remove directory failed", zap.Error(err))
		s.respondError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistInbox()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistInbox writes the current inbox directories back to the config file.
func (s *Server) persistInbox() {
	if s.configPath == "" || s.config == nil {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Inbox.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist inbox config", zap.Error(err))
	}
}

// parseRange parses optional from/to bounds in any accepted payload timestamp format.
func parseRange(from, to string) (models.DateRange, error) {
	var dr models.DateRange
	var err error
	if from != "" {
		if dr.From, err = source.ParseTimestamp(from); err != nil {
			return dr, errors.New("invalid from: " + err.Error())
		}
	}
	if to != "" {
		if dr.To, err = source.ParseTimestamp(to); err != nil {
			return dr, errors.New("invalid to: " + err.Error())
		}
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && !dr.From.Before(dr.To) {
		return dr, errors.New("from must be before to")
	}
	dr.From, dr.To = utc(dr.From), utc(dr.To)
	return dr, nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message, "request_id": RequestID(r.Context())})
}
