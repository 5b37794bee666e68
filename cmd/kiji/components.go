package main

import (
	"context"
	"fmt"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/classify"
	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/dedup"
	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/enrich"
	"github.com/hyperjump/kiji/internal/keyword"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/pipeline"
	"github.com/hyperjump/kiji/internal/retrieval"
	"github.com/hyperjump/kiji/internal/source"
	"github.com/hyperjump/kiji/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Store        *storage.SQLiteStore
	Embedder     embedding.Embedder
	Completer    llm.Completer
	KeywordIndex *keyword.BleveIndex
	Redis        *goredis.Client
	Cache        *retrieval.AnswerCache
	Engine       *retrieval.Engine
	Highlighter  *retrieval.Highlighter
	Topics       *retrieval.TopicGrouper
	Pipeline     *pipeline.Pipeline
}

// Close releases everything in reverse order of construction.
func (c *Components) Close() {
	if c.Pipeline != nil {
		c.Pipeline.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if c.Embedder, err = newEmbedder(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	logger.Info("embedder initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model_version", c.Embedder.ModelVersion()),
		zap.Int("dimensions", c.Embedder.Dimensions()))

	c.Store, err = storage.NewSQLiteStore(
		cfg.Storage.DatabasePath,
		c.Embedder.ModelVersion(),
		c.Embedder.Dimensions(),
		storage.WithSnapshot(cfg.Storage.VectorSnapshotPath),
		storage.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if c.Completer, err = newCompleter(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize completer: %w", err)
	}

	engineOpts := []retrieval.Option{retrieval.WithLogger(logger)}
	pipelineOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.Storage.BleveIndexPath != "" {
		if c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath); err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		engineOpts = append(engineOpts, retrieval.WithKeywordIndex(c.KeywordIndex))
		pipelineOpts = append(pipelineOpts, pipeline.WithKeywordIndex(c.KeywordIndex))
	}

	if cfg.Cache.RedisAddr != "" {
		password := ""
		if cfg.Cache.PasswordEnv != "" {
			password = os.Getenv(cfg.Cache.PasswordEnv)
		}
		c.Redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: password,
			DB:       cfg.Cache.DB,
		})
		c.Cache = retrieval.NewAnswerCache(c.Redis, cfg.Cache.TTL, logger)
		engineOpts = append(engineOpts, retrieval.WithCache(c.Cache))
		pipelineOpts = append(pipelineOpts, pipeline.WithCache(c.Cache))
	}

	retry := llm.RetryPolicy{
		MaxAttempts:     cfg.Enrichment.MaxAttempts,
		InitialInterval: cfg.Enrichment.InitialBackoff,
		MaxInterval:     cfg.Enrichment.MaxBackoff,
	}
	c.Engine = retrieval.NewEngine(c.Store, c.Embedder, c.Completer, retrieval.Config{
		TopK:            cfg.Retrieval.TopK,
		MaxTopK:         cfg.Retrieval.MaxTopK,
		SimilarityFloor: cfg.Retrieval.SimilarityFloor,
		Candidates:      cfg.Retrieval.Candidates,
		KeywordWeight:   cfg.Retrieval.KeywordWeight,
		CallTimeout:     cfg.Pipeline.CallTimeout,
		Retry:           retry,
		ContextRunes:    cfg.Retrieval.ContextChars,
	}, engineOpts...)

	c.Highlighter = retrieval.NewHighlighter(c.Store, logger)
	c.Highlighter.Count = cfg.Highlights.Count
	c.Highlighter.Threshold = cfg.Highlights.Threshold
	c.Highlighter.Boost = cfg.Highlights.Boost
	c.Highlighter.Window = cfg.Highlights.Window
	pipelineOpts = append(pipelineOpts, pipeline.WithHighlighter(c.Highlighter))

	c.Topics = retrieval.NewTopicGrouper(c.Store, logger)
	c.Topics.Threshold = cfg.Topics.Threshold
	c.Topics.MinSize = cfg.Topics.MinSize
	c.Topics.Window = cfg.Topics.Window
	pipelineOpts = append(pipelineOpts, pipeline.WithTopicGrouper(c.Topics))

	classifier, err := newClassifier(cfg, c.Completer, logger)
	if err != nil {
		return nil, err
	}
	categorizer := classify.NewCategorizer(classifier,
		classify.WithThreshold(cfg.Categorizer.ConfidenceThreshold),
		classify.WithMaxAttempts(cfg.Categorizer.MaxAttempts),
		classify.WithCallTimeout(cfg.Pipeline.CallTimeout),
		classify.WithBackoff(cfg.Enrichment.InitialBackoff, cfg.Enrichment.MaxBackoff),
		classify.WithLabels(cfg.Categories),
		classify.WithLogger(logger),
	)

	var summarizer enrich.Summarizer = enrich.NewExtractiveSummarizer(cfg.Enrichment.SummarySentences)
	if cfg.Enrichment.Summarizer == "completion" {
		summarizer = enrich.NewCompletionSummarizer(c.Completer, cfg.Enrichment.SummarySentences)
	}
	enricher := enrich.NewEnricher(summarizer, c.Embedder,
		enrich.WithRetryPolicy(retry),
		enrich.WithCallTimeout(cfg.Pipeline.CallTimeout),
		enrich.WithLogger(logger),
	)

	deduplicator := dedup.New(c.Store,
		dedup.NewWindow(cfg.Dedup.WindowCapacity, cfg.Dedup.Window, cfg.Dedup.SimilarityThreshold),
		dedup.WithShingleSize(cfg.Dedup.ShingleSize),
		dedup.WithLogger(logger),
	)

	c.Pipeline, err = pipeline.New(
		source.NewAdapter(cfg.Source.MinTextLength),
		deduplicator,
		categorizer,
		enricher,
		c.Store,
		pipeline.Config{
			Workers:           cfg.Pipeline.Workers,
			RequestsPerSecond: cfg.Pipeline.RequestsPerSecond,
			ReprocessLimit:    cfg.Pipeline.ReprocessLimit,
		},
		pipelineOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	return c, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	var e embedding.Embedder
	switch cfg.Embedding.Provider {
	case "onnx":
		onnx, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
			ModelPath:  cfg.Embedding.ModelPath,
			Version:    cfg.Embedding.ModelVersion,
			Dimensions: cfg.Embedding.Dimensions,
			MaxTokens:  cfg.Embedding.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		e = onnx
	case "gemini":
		key := cfg.Providers.Gemini.APIKey()
		if key == "" {
			return nil, fmt.Errorf("gemini embedder: %s is not set", cfg.Providers.Gemini.APIKeyEnv)
		}
		gemini, err := embedding.NewGeminiEmbedder(ctx, embedding.GeminiConfig{
			APIKey:     key,
			Model:      cfg.Embedding.Model,
			Version:    cfg.Embedding.ModelVersion,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		e = gemini
	default:
		e = embedding.NewHashingEmbedder(cfg.Embedding.ModelVersion, cfg.Embedding.Dimensions)
	}
	if cfg.Embedding.CacheSize > 0 {
		e = embedding.NewCachedEmbedder(e, cfg.Embedding.CacheSize)
	}
	return e, nil
}

func newCompleter(ctx context.Context, cfg *config.Config) (llm.Completer, error) {
	switch cfg.Completion.Provider {
	case "gemini":
		key := cfg.Providers.Gemini.APIKey()
		if key == "" {
			return nil, fmt.Errorf("gemini completer: %s is not set", cfg.Providers.Gemini.APIKeyEnv)
		}
		return llm.NewGeminiCompleter(ctx, llm.GeminiConfig{APIKey: key, Model: cfg.Providers.Gemini.Model})
	case "anthropic":
		key := cfg.Providers.Anthropic.APIKey()
		if key == "" {
			return nil, fmt.Errorf("anthropic completer: %s is not set", cfg.Providers.Anthropic.APIKeyEnv)
		}
		return llm.NewClaudeCompleter(llm.ClaudeConfig{
			APIKey:    key,
			Model:     cfg.Providers.Anthropic.Model,
			MaxTokens: cfg.Providers.Anthropic.MaxTokens,
		})
	default:
		return llm.NewExtractiveCompleter(0), nil
	}
}

func newClassifier(cfg *config.Config, completer llm.Completer, logger *zap.Logger) (classify.Classifier, error) {
	if cfg.Categorizer.Provider == "completion" {
		if cfg.Completion.Provider == "extractive" {
			logger.Warn("completion classifier configured with the extractive completer; articles will stay uncategorized")
		}
		return classify.NewCompletionClassifier(completer, cfg.Categories), nil
	}
	lexicon := classify.DefaultLexicon()
	if cfg.Categorizer.TrainingFile != "" {
		examples, err := classify.ReadExamples(cfg.Categorizer.TrainingFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load classifier training data: %w", err)
		}
		n := lexicon.Train(examples)
		logger.Info("classifier trained", zap.String("path", cfg.Categorizer.TrainingFile), zap.Int("examples", n))
	}
	return lexicon, nil
}
