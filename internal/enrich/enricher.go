package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"go.uber.org/zap"
)

// MaxEmbeddingInputRunes bounds the title and text handed to the embedder.
const MaxEmbeddingInputRunes = 8191

// Result reports what one Enrich call did.
type Result struct {
	SummaryAttempts   int
	EmbeddingAttempts int
	SummaryErr        error
	EmbeddingErr      error
}

// Complete reports whether both fields are now present.
func (r Result) Complete() bool {
	return r.SummaryErr == nil && r.EmbeddingErr == nil
}

// Enricher fills in the summary and embedding of an article. The two are produced
// independently: one may succeed while the other fails.
type Enricher struct {
	summarizer  Summarizer
	embedder    embedding.Embedder
	policy      llm.RetryPolicy
	callTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithRetryPolicy sets the retry bounds for provider calls.
func WithRetryPolicy(p llm.RetryPolicy) Option {
	return func(e *Enricher) { e.policy = p }
}

// WithCallTimeout bounds each provider call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Enricher) { e.callTimeout = d }
}

// WithClock sets the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Enricher) { e.logger = l }
}

// NewEnricher returns an Enricher over summarizer and embedder.
func NewEnricher(summarizer Summarizer, embedder embedding.Embedder, opts ...Option) *Enricher {
	e := &Enricher{
		summarizer:  summarizer,
		embedder:    embedder,
		policy:      llm.DefaultRetryPolicy,
		callTimeout: 30 * time.Second,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ModelVersion is the active embedding model version.
func (e *Enricher) ModelVersion() string {
	return e.embedder.ModelVersion()
}

// NeedsEmbedding reports whether a lacks a vector of the active version.
func (e *Enricher) NeedsEmbedding(a *models.EnrichedArticle) bool {
	return !a.Embedding.Compatible(e.embedder.ModelVersion(), e.embedder.Dimensions())
}

// Enrich fills whatever a is missing: a summary if it has none, an embedding if it has
// none of the active version. Transient failures are retried with exponential backoff;
// on exhaustion the article keeps what it has and is flagged pending.
func (e *Enricher) Enrich(ctx context.Context, a *models.EnrichedArticle) Result {
	var (
		res     Result
		wg      sync.WaitGroup
		summary string
		emb     models.Embedding
	)

	if !a.Displayable() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.SummaryAttempts, res.SummaryErr = e.policy.Retry(ctx, func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
				defer cancel()
				s, err := e.summarizer.Summarize(callCtx, &a.Article)
				if err != nil {
					return llm.ClassifyError("summary", err)
				}
				summary = s
				return nil
			})
		}()
	}

	if e.NeedsEmbedding(a) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			input := a.EmbeddingInput(MaxEmbeddingInputRunes)
			res.EmbeddingAttempts, res.EmbeddingErr = e.policy.Retry(ctx, func(ctx context.Context) error {
				callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
				defer cancel()
				v, err := e.embedder.Embed(callCtx, input)
				if err != nil {
					return llm.ClassifyError("embedding", err)
				}
				emb = v
				return nil
			})
		}()
	}

	wg.Wait()

	if res.SummaryAttempts > 0 && res.SummaryErr == nil {
		a.Summary = summary
	}
	if res.EmbeddingAttempts > 0 && res.EmbeddingErr == nil {
		a.Embedding = &emb
		a.EnrichmentVersion = emb.Version
	}

	var problems []string
	if res.SummaryErr != nil {
		problems = append(problems, "summary: "+res.SummaryErr.Error())
	}
	if res.EmbeddingErr != nil {
		problems = append(problems, "embedding: "+res.EmbeddingErr.Error())
	}
	a.PendingEnrichment = len(problems) > 0
	a.EnrichmentError = strings.Join(problems, "; ")
	a.UpdatedAt = e.now().UTC()

	if a.PendingEnrichment {
		e.logger.Warn("Enrichment incomplete",
			zap.String("article_id", a.ID),
			zap.Bool("has_summary", a.Displayable()),
			zap.Bool("has_embedding", a.Searchable()),
			zap.String("error", a.EnrichmentError))
	}
	return res
}
