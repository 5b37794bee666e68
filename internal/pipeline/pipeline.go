// Package pipeline runs ingestion batches: normalize, deduplicate, categorize, enrich, store.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/kiji/internal/classify"
	"github.com/hyperjump/kiji/internal/dedup"
	"github.com/hyperjump/kiji/internal/enrich"
	"github.com/hyperjump/kiji/internal/keyword"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/retrieval"
	"github.com/hyperjump/kiji/internal/source"
	"github.com/hyperjump/kiji/internal/storage"
)

// Config bounds the per-article work of a batch.
type Config struct {
	// Workers is the number of articles processed concurrently.
	Workers int
	// RequestsPerSecond caps provider calls across workers. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
	// ReprocessLimit caps how many articles one Reprocess call picks up.
	ReprocessLimit int
	// StoreRetries is how many times a failed store write is retried.
	StoreRetries uint64
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		RequestsPerSecond: 5,
		Burst:             5,
		ReprocessLimit:    500,
		StoreRetries:      4,
	}
}

// Pipeline wires the ingestion stages together. RunBatch and Reprocess calls are serialized.
type Pipeline struct {
	adapter     *source.Adapter
	dedup       *dedup.Deduplicator
	categorizer *classify.Categorizer
	enricher    *enrich.Enricher
	store       storage.Store
	keyword     keyword.KeywordIndex
	highlighter *retrieval.Highlighter
	topics      *retrieval.TopicGrouper
	cache       *retrieval.AnswerCache

	config  Config
	limiter *rate.Limiter
	pool    *ants.Pool
	now     func() time.Time
	logger  *zap.Logger

	runMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithKeywordIndex indexes stored articles for keyword search.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(p *Pipeline) { p.keyword = k }
}

// WithHighlighter refreshes featured articles after each batch that stores something.
func WithHighlighter(h *retrieval.Highlighter) Option {
	return func(p *Pipeline) { p.highlighter = h }
}

// WithTopicGrouper regroups topics after each batch that stores something.
func WithTopicGrouper(g *retrieval.TopicGrouper) Option {
	return func(p *Pipeline) { p.topics = g }
}

// WithCache clears cached answers after each batch that stores something.
func WithCache(c *retrieval.AnswerCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock sets the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New returns a Pipeline over the given stages. Call Close to release its workers.
func New(
	adapter *source.Adapter,
	deduplicator *dedup.Deduplicator,
	categorizer *classify.Categorizer,
	enricher *enrich.Enricher,
	store storage.Store,
	cfg Config,
	opts ...Option,
) (*Pipeline, error) {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ReprocessLimit <= 0 {
		cfg.ReprocessLimit = def.ReprocessLimit
	}
	if cfg.StoreRetries == 0 {
		cfg.StoreRetries = def.StoreRetries
	}

	p := &Pipeline{
		adapter:     adapter,
		dedup:       deduplicator,
		categorizer: categorizer,
		enricher:    enricher,
		store:       store,
		config:      cfg,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	// An article costs up to three provider calls: one classification, one summary, one embedding.
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 2 {
			burst = 2
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	} else {
		p.limiter = rate.NewLimiter(rate.Inf, 0)
	}

	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(v interface{}) {
		p.logger.Error("Article worker panicked", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	p.pool = pool
	return p, nil
}

// Close releases the worker pool.
func (p *Pipeline) Close() {
	p.pool.Release()
}

// outcome is what processing one article produced.
type outcome struct {
	article  *models.EnrichedArticle
	category classify.Outcome
	enrich   enrich.Result
	stored   bool
	// recategorized is set when a reprocessed article's failed classification succeeded.
	recategorized bool
	failures      []Failure
}

// RunBatch ingests one batch of payloads. Per-article failures are recorded in the report
// and never abort the batch; an error is returned only when deduplication cannot consult
// the store or ctx is cancelled.
func (p *Pipeline) RunBatch(ctx context.Context, payloads []*models.RawPayload) (*BatchReport, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	report := &BatchReport{
		RunID:      uuid.New().String(),
		StartedAt:  p.now().UTC(),
		Received:   len(payloads),
		ByCategory: make(map[models.Category]int),
	}
	log := p.logger.With(zap.String("run_id", report.RunID))
	log.Info("Starting batch", zap.Int("payloads", len(payloads)))

	articles, rejections := p.adapter.NormalizeBatch(payloads)
	report.Rejected = len(rejections)
	report.Rejections = rejections

	filtered, err := p.dedup.Filter(ctx, articles)
	if err != nil {
		report.FinishedAt = p.now().UTC()
		return report, fmt.Errorf("deduplicate batch: %w", err)
	}
	report.Duplicates = filtered.ExactCount
	report.NearDuplicates = filtered.NearCount
	report.Discards = filtered.Discards

	outcomes := p.runAll(ctx, len(filtered.Unique), func(i int) *outcome {
		return p.ingest(ctx, filtered.Unique[i])
	})
	var unstored []string
	for i, o := range outcomes {
		if o == nil || !o.stored {
			unstored = append(unstored, filtered.Unique[i].ID)
		}
	}
	p.dedup.Release(unstored...)

	for _, o := range outcomes {
		if o == nil {
			continue
		}
		report.Failures = append(report.Failures, o.failures...)
		if !o.stored {
			continue
		}
		report.Stored++
		report.ByCategory[o.article.Category]++
		if o.article.Category == models.CategoryUncategorized {
			report.Uncategorized++
		}
		if o.category.Failed {
			report.ClassificationFailures++
		}
		if o.article.PendingEnrichment {
			report.Pending++
		} else {
			report.FullyEnriched++
		}
	}

	if report.Stored > 0 {
		p.afterWrite(ctx, log, report)
	}

	report.FinishedAt = p.now().UTC()
	log.Info("Batch complete",
		zap.Int("received", report.Received),
		zap.Int("rejected", report.Rejected),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("near_duplicates", report.NearDuplicates),
		zap.Int("stored", report.Stored),
		zap.Int("pending", report.Pending),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("duration", report.Duration()))
	return report, ctx.Err()
}

// ingest categorizes, enriches, and stores one new article.
func (p *Pipeline) ingest(ctx context.Context, a *models.Article) *outcome {
	o := &outcome{article: &models.EnrichedArticle{Article: *a}}
	if err := p.limiter.Wait(ctx); err != nil {
		o.failures = append(o.failures, Failure{ArticleID: a.ID, Stage: StageCanceled, Error: err.Error()})
		return o
	}
	o.category = p.categorizer.Categorize(ctx, a)
	applyCategory(o.article, o.category)

	p.enrichAndStore(ctx, o)
	return o
}

// enrichAndStore fills the missing enrichment fields of o.article and writes it.
func (p *Pipeline) enrichAndStore(ctx context.Context, o *outcome) {
	a := o.article
	if err := p.limiter.WaitN(ctx, 2); err != nil {
		o.failures = append(o.failures, Failure{ArticleID: a.ID, Stage: StageCanceled, Error: err.Error()})
		return
	}
	o.enrich = p.enricher.Enrich(ctx, a)

	if err := p.upsert(ctx, a); err != nil {
		p.logger.Warn("Failed to store article", zap.String("article_id", a.ID), zap.Error(err))
		o.failures = append(o.failures, Failure{ArticleID: a.ID, Stage: StageStore, Error: err.Error()})
		return
	}
	o.stored = true

	if p.keyword != nil {
		if err := p.keyword.Index(ctx, a); err != nil {
			p.logger.Warn("Failed to index article keywords", zap.String("article_id", a.ID), zap.Error(err))
			o.failures = append(o.failures, Failure{ArticleID: a.ID, Stage: StageKeyword, Error: err.Error()})
		}
	}
}

// upsert writes a, retrying failed writes with exponential backoff.
func (p *Pipeline) upsert(ctx context.Context, a *models.EnrichedArticle) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(func() error {
		err := p.store.Upsert(ctx, a)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.config.StoreRetries), ctx))
}

func applyCategory(a *models.EnrichedArticle, out classify.Outcome) {
	a.Category = out.Category
	a.Confidence = out.Confidence
	a.CategoryNote = out.Note
	a.ClassificationFailed = out.Failed
}

// runAll runs fn for 0..n-1 on the worker pool and returns the results in input order.
func (p *Pipeline) runAll(ctx context.Context, n int, fn func(i int) *outcome) []*outcome {
	out := make([]*outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			out[i] = fn(i)
		}
		if err := p.pool.Submit(task); err != nil {
			p.logger.Warn("Worker pool rejected task, running inline", zap.Error(err))
			task()
		}
	}
	wg.Wait()
	return out
}

// afterWrite refreshes highlights and topics and drops cached answers once new articles
// are stored. A non-nil report records the refreshed highlights and topic counts.
func (p *Pipeline) afterWrite(ctx context.Context, log *zap.Logger, report *BatchReport) {
	if p.highlighter != nil {
		h, err := p.highlighter.RefreshAll(ctx)
		if err != nil {
			log.Warn("Highlights refresh incomplete", zap.Error(err))
		}
		if report != nil {
			report.Highlights = h
		}
	}
	if p.topics != nil {
		n, err := p.topics.GroupAll(ctx)
		if err != nil {
			log.Warn("Topic grouping incomplete", zap.Error(err))
		}
		if report != nil {
			report.Topics = n
		}
	}
	if n, err := p.cache.Clear(ctx); err != nil {
		log.Warn("Failed to clear answer cache", zap.Error(err))
	} else if n > 0 {
		log.Debug("Cleared cached answers", zap.Int("deleted", n))
	}
}

// Reprocess retries stored articles that are pending enrichment, failed classification,
// or carry an embedding of another model version. limit <= 0 uses the configured limit.
func (p *Pipeline) Reprocess(ctx context.Context, limit int) (*ReprocessReport, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if limit <= 0 {
		limit = p.config.ReprocessLimit
	}
	report := &ReprocessReport{RunID: uuid.New().String(), StartedAt: p.now().UTC()}
	log := p.logger.With(zap.String("run_id", report.RunID))

	articles, err := p.store.ListForReprocess(ctx, limit)
	if err != nil {
		report.FinishedAt = p.now().UTC()
		return report, fmt.Errorf("list articles to reprocess: %w", err)
	}
	report.Attempted = len(articles)

	outcomes := p.runAll(ctx, len(articles), func(i int) *outcome {
		a := articles[i]
		o := &outcome{article: a}
		if a.ClassificationFailed {
			if err := p.limiter.Wait(ctx); err != nil {
				o.failures = append(o.failures, Failure{ArticleID: a.ID, Stage: StageCanceled, Error: err.Error()})
				return o
			}
			o.category = p.categorizer.Categorize(ctx, &a.Article)
			applyCategory(a, o.category)
			o.recategorized = !o.category.Failed
		}
		p.enrichAndStore(ctx, o)
		return o
	})
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		report.Failures = append(report.Failures, o.failures...)
		if o.stored && o.recategorized {
			report.Recategorized++
		}
		if o.stored && !o.article.PendingEnrichment && !o.article.ClassificationFailed {
			report.Completed++
		} else {
			report.StillPending++
		}
	}

	if report.Completed > 0 || report.Recategorized > 0 {
		p.afterWrite(ctx, log, nil)
	}

	report.FinishedAt = p.now().UTC()
	log.Info("Reprocess complete",
		zap.Int("attempted", report.Attempted),
		zap.Int("completed", report.Completed),
		zap.Int("still_pending", report.StillPending),
		zap.Int("recategorized", report.Recategorized))
	return report, ctx.Err()
}

// Warm seeds the near-duplicate window with articles fetched within span before now.
func (p *Pipeline) Warm(ctx context.Context, span time.Duration) (int, error) {
	recent, err := p.store.Recent(ctx, p.now().Add(-span))
	if err != nil {
		return 0, fmt.Errorf("load recent articles: %w", err)
	}
	n := p.dedup.Warm(recent)
	p.logger.Info("Warmed near-duplicate window", zap.Int("articles", n))
	return n, nil
}

// IngestFile reads a payload file (JSON array or JSON Lines) and runs it as one batch.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*BatchReport, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", absPath)
	}
	payloads, err := source.ReadPayloadFile(absPath)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Ingesting payload file", zap.String("path", absPath), zap.Int("payloads", len(payloads)))
	return p.RunBatch(ctx, payloads)
}
