package config

import (
	"fmt"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Categories) == 0 {
		cfg.Categories = append([]models.Category(nil), models.Categories...)
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kiji/data/db/articles.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/kiji/data/indices/bleve"
	}
	if cfg.Storage.VectorSnapshotPath == "" {
		cfg.Storage.VectorSnapshotPath = "/usr/local/var/kiji/data/indices/vectors.bin"
	}
	if cfg.Source.MinTextLength == 0 {
		cfg.Source.MinTextLength = 200
	}
	if cfg.Dedup.SimilarityThreshold == 0 {
		cfg.Dedup.SimilarityThreshold = 0.85
	}
	if cfg.Dedup.Window == 0 {
		cfg.Dedup.Window = 48 * time.Hour
	}
	if cfg.Dedup.WindowCapacity == 0 {
		cfg.Dedup.WindowCapacity = 10000
	}
	if cfg.Dedup.ShingleSize == 0 {
		cfg.Dedup.ShingleSize = 1
	}
	if cfg.Categorizer.Provider == "" {
		cfg.Categorizer.Provider = "lexicon"
	}
	if cfg.Categorizer.ConfidenceThreshold == 0 {
		cfg.Categorizer.ConfidenceThreshold = 0.5
	}
	if cfg.Categorizer.MaxAttempts == 0 {
		cfg.Categorizer.MaxAttempts = 3
	}
	if cfg.Enrichment.Summarizer == "" {
		cfg.Enrichment.Summarizer = "extractive"
	}
	if cfg.Enrichment.SummarySentences == 0 {
		cfg.Enrichment.SummarySentences = 3
	}
	if cfg.Enrichment.MaxAttempts == 0 {
		cfg.Enrichment.MaxAttempts = 3
	}
	if cfg.Enrichment.InitialBackoff == 0 {
		cfg.Enrichment.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.Enrichment.MaxBackoff == 0 {
		cfg.Enrichment.MaxBackoff = 10 * time.Second
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.Provider == "gemini" && cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "gemini-embedding-001"
	}
	if cfg.Embedding.ModelVersion == "" {
		if cfg.Embedding.Provider == "gemini" {
			// a different model or output size is a different vector space
			cfg.Embedding.ModelVersion = fmt.Sprintf("%s@%d", cfg.Embedding.Model, cfg.Embedding.Dimensions)
		} else {
			cfg.Embedding.ModelVersion = cfg.Embedding.Provider + "-v1"
		}
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Completion.Provider == "" {
		cfg.Completion.Provider = "extractive"
	}
	if cfg.Providers.Gemini.APIKeyEnv == "" {
		cfg.Providers.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if cfg.Providers.Anthropic.APIKeyEnv == "" {
		cfg.Providers.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Retrieval.MaxTopK == 0 {
		cfg.Retrieval.MaxTopK = 50
	}
	if cfg.Retrieval.SimilarityFloor == 0 {
		cfg.Retrieval.SimilarityFloor = 0.3
	}
	if cfg.Retrieval.Candidates == 0 {
		cfg.Retrieval.Candidates = 20
	}
	if cfg.Retrieval.KeywordWeight == 0 {
		cfg.Retrieval.KeywordWeight = 0.2
	}
	if cfg.Retrieval.ContextChars == 0 {
		cfg.Retrieval.ContextChars = 1500
	}
	if cfg.Highlights.Count == 0 {
		cfg.Highlights.Count = 5
	}
	if cfg.Highlights.Threshold == 0 {
		cfg.Highlights.Threshold = 0.9
	}
	if cfg.Highlights.Boost == 0 {
		cfg.Highlights.Boost = 5
	}
	if cfg.Highlights.Window == 0 {
		cfg.Highlights.Window = 48 * time.Hour
	}
	if cfg.Topics.Threshold == 0 {
		cfg.Topics.Threshold = 0.8
	}
	if cfg.Topics.MinSize == 0 {
		cfg.Topics.MinSize = 2
	}
	if cfg.Topics.Window == 0 {
		cfg.Topics.Window = 7 * 24 * time.Hour
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.RequestsPerSecond == 0 {
		cfg.Pipeline.RequestsPerSecond = 5
	}
	if cfg.Pipeline.CallTimeout == 0 {
		cfg.Pipeline.CallTimeout = 30 * time.Second
	}
	if cfg.Pipeline.ReprocessLimit == 0 {
		cfg.Pipeline.ReprocessLimit = 500
	}
	if cfg.Schedule.Cron == "" {
		cfg.Schedule.Cron = "0 6 * * *"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Hour
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Inbox.Directories) > 0 && cfg.Inbox.Recursive == nil {
		t := true
		cfg.Inbox.Recursive = &t
	}
}
