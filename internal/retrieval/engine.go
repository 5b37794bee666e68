// Package retrieval answers natural-language questions from stored articles: semantic
// search with optional keyword re-ranking, a similarity floor, and a grounded completion
// that cites the articles it used.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/keyword"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/pkg/utils"
)

// Config tunes retrieval.
type Config struct {
	TopK            int
	MaxTopK         int
	SimilarityFloor float64
	// Candidates is how many semantic hits are fetched before the floor and re-ranking.
	Candidates    int
	KeywordWeight float64
	CallTimeout   time.Duration
	Retry         llm.RetryPolicy
	// ContextRunes caps how much of each article is given to the completer.
	ContextRunes int
}

// DefaultConfig returns the retrieval defaults.
func DefaultConfig() Config {
	return Config{
		TopK:            5,
		MaxTopK:         50,
		SimilarityFloor: 0.3,
		Candidates:      20,
		KeywordWeight:   0.2,
		CallTimeout:     60 * time.Second,
		Retry:           llm.DefaultRetryPolicy,
		ContextRunes:    1500,
	}
}

// Engine runs retrieval queries. It is read-only and safe for concurrent use.
type Engine struct {
	store     storage.Store
	embedder  embedding.Embedder
	completer llm.Completer
	keyword   keyword.KeywordIndex
	cache     *AnswerCache
	config    Config
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeywordIndex enables keyword re-ranking.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Engine) { e.keyword = k }
}

// WithCache enables the answer cache.
func WithCache(c *AnswerCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a retrieval engine with the given dependencies.
func NewEngine(store storage.Store, embedder embedding.Embedder, completer llm.Completer, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.Candidates < cfg.TopK {
		cfg.Candidates = cfg.TopK * 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.ContextRunes <= 0 {
		cfg.ContextRunes = def.ContextRunes
	}
	e := &Engine{
		store:     store,
		embedder:  embedder,
		completer: completer,
		config:    cfg,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns the top-k articles for q that clear the similarity floor. When nothing
// does, it returns *models.NoRelevantResultsError. When only stale-version vectors exist,
// it returns a degraded result together with *models.ModelVersionMismatchError.
func (e *Engine) Search(ctx context.Context, q *models.Query) (*models.SearchResult, error) {
	res, _, err := e.retrieve(ctx, q)
	return res, err
}

// retrieve validates q, embeds it, searches, applies the floor, and re-ranks.
// It returns the category scope that was applied.
func (e *Engine) retrieve(ctx context.Context, q *models.Query) (*models.SearchResult, models.Category, error) {
	if err := q.Validate(e.config.TopK, e.config.MaxTopK); err != nil {
		return nil, "", err
	}
	version := e.embedder.ModelVersion()
	if active := e.store.ActiveVersion(); version != active {
		return nil, "", &models.ModelVersionMismatchError{Active: active, Got: version}
	}

	var query models.Embedding
	_, err := e.config.Retry.Retry(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
		defer cancel()
		var err error
		query, err = e.embedder.Embed(callCtx, q.Text)
		return err
	})
	if err != nil {
		return nil, "", llm.ClassifyError("embedding", fmt.Errorf("embed query: %w", err))
	}

	scope, inferred := q.Category, false
	if scope == "" && !q.NoScope {
		scope, inferred = InferScope(q.Text)
	}

	res, hits, best, err := e.search(ctx, q, query, scope)
	if err != nil {
		return res, scope, err
	}
	if len(hits) == 0 && inferred {
		e.logger.Debug("No hits in inferred scope, searching all categories",
			zap.String("scope", string(scope)), zap.Float64("best_score", best))
		scope = ""
		res, hits, best, err = e.search(ctx, q, query, "")
		if err != nil {
			return res, scope, err
		}
	}
	if len(hits) == 0 {
		return res, scope, &models.NoRelevantResultsError{Query: q.Text, BestScore: best, Floor: e.config.SimilarityFloor}
	}

	if e.keyword != nil && e.config.KeywordWeight > 0 {
		kw, err := e.keyword.Search(ctx, q.Text, e.config.Candidates, &keyword.SearchOptions{Category: scope, TitleBoost: 2})
		if err != nil {
			e.logger.Warn("Keyword search failed, using semantic ranking only", zap.Error(err))
		} else {
			hits = Fuse(hits, NormalizeKeywordScores(kw), e.config.KeywordWeight)
		}
	}
	if len(hits) > q.TopK {
		hits = hits[:q.TopK]
	}
	res.Hits = hits
	return res, scope, nil
}

func (e *Engine) search(ctx context.Context, q *models.Query, query models.Embedding, scope models.Category) (*models.SearchResult, []*models.ScoredArticle, float64, error) {
	res, err := e.store.SimilaritySearch(ctx, query, e.config.Candidates, models.SearchFilters{Category: scope, Range: q.Range})
	if err != nil {
		return res, nil, 0, err
	}
	hits, best := AboveFloor(res.Hits, e.config.SimilarityFloor)
	return res, hits, best, nil
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// Answer retrieves articles for q and asks the completer for an answer grounded in them.
// The answer always carries citations; if the completer cites none, every article given
// to it is cited. Errors are those of Search, or a classified completion failure.
func (e *Engine) Answer(ctx context.Context, q *models.Query) (*models.QueryResult, error) {
	start := time.Now()
	if err := q.Validate(e.config.TopK, e.config.MaxTopK); err != nil {
		return nil, err
	}
	version := e.embedder.ModelVersion()

	if cached, err := e.cache.Get(ctx, q, version); err != nil {
		e.logger.Warn("Answer cache unavailable", zap.Error(err))
	} else if cached != nil {
		cached.Cached = true
		cached.QueryTime = time.Since(start).Milliseconds()
		return cached, nil
	}

	res, scope, err := e.retrieve(ctx, q)
	if err != nil {
		return nil, err
	}

	docs := make([]llm.Document, len(res.Hits))
	for i, h := range res.Hits {
		a := h.Article
		text := a.Summary
		if text == "" {
			text = utils.Truncate(a.RawText, e.config.ContextRunes)
		}
		docs[i] = llm.Document{
			Index:       i + 1,
			ID:          a.ID,
			Title:       a.Title,
			Source:      a.Source,
			URL:         a.URL,
			PublishedAt: a.PublishedAt,
			Text:        text,
		}
	}

	var answer string
	_, err = e.config.Retry.Retry(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
		defer cancel()
		var err error
		answer, err = e.completer.Complete(callCtx, llm.Request{
			System:    llm.GroundedSystemPrompt,
			Prompt:    "Question: " + q.Text,
			Documents: docs,
		})
		return err
	})
	if err != nil {
		return nil, llm.ClassifyError("completion", fmt.Errorf("%s completion: %w", e.completer.Name(), err))
	}

	result := &models.QueryResult{
		QueryText:       q.Text,
		Scope:           scope,
		MatchedArticles: res.Hits,
		GeneratedAnswer: answer,
		Citations:       Citations(answer, res.Hits),
		ModelVersion:    res.ActiveVersion,
		QueryTime:       time.Since(start).Milliseconds(),
	}
	if err := e.cache.Set(ctx, q, version, result); err != nil {
		e.logger.Warn("Failed to cache answer", zap.Error(err))
	}
	e.logger.Info("Answered query",
		zap.String("scope", string(scope)),
		zap.Int("matched", len(res.Hits)),
		zap.Int("citations", len(result.Citations)),
		zap.Int64("query_time_ms", result.QueryTime))
	return result, nil
}

// Citations lists the hits referenced by [n] markers in answer, in order of first mention.
// Markers outside 1..len(hits) are ignored. With no valid marker, every hit is cited.
func Citations(answer string, hits []*models.ScoredArticle) []models.Citation {
	seen := make(map[int]bool)
	var order []int
	for _, m := range citationRe.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(hits) || seen[n] {
			continue
		}
		seen[n] = true
		order = append(order, n)
	}
	if len(order) == 0 {
		for i := range hits {
			order = append(order, i+1)
		}
	}
	out := make([]models.Citation, 0, len(order))
	for _, n := range order {
		h := hits[n-1]
		out = append(out, models.Citation{
			Index:       n,
			ArticleID:   h.Article.ID,
			Title:       h.Article.Title,
			Source:      h.Article.Source,
			URL:         h.Article.URL,
			PublishedAt: h.Article.PublishedAt,
			Score:       h.Score,
		})
	}
	return out
}

// IsDegraded reports whether err means the store could not serve current-version vectors
// or a provider was unavailable.
func IsDegraded(err error) bool {
	return models.IsVersionMismatch(err) || models.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}
