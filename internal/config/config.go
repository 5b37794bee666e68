// Package config provides configuration loading and structs for kiji.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kiji/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Categories  []models.Category `yaml:"categories"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Source      SourceConfig      `yaml:"source"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Categorizer CategorizerConfig `yaml:"categorizer"`
	Enrichment  EnrichmentConfig  `yaml:"enrichment"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Completion  CompletionConfig  `yaml:"completion"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Highlights  HighlightsConfig  `yaml:"highlights"`
	Topics      TopicsConfig      `yaml:"topics"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Cache       CacheConfig       `yaml:"cache"`
	Inbox       InboxConfig       `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath       string `yaml:"database_path" validate:"required"`
	BleveIndexPath     string `yaml:"bleve_index_path"`
	VectorSnapshotPath string `yaml:"vector_snapshot_path"`
}

// SourceConfig holds source adapter settings.
type SourceConfig struct {
	MinTextLength int `yaml:"min_text_length" validate:"min=1"`
	// SpoolDir is where the fetch job writes daily payload files for the scheduler.
	SpoolDir string `yaml:"spool_dir"`
}

// DedupConfig holds near-duplicate detection settings.
type DedupConfig struct {
	SimilarityThreshold float64       `yaml:"similarity_threshold" validate:"gt=0,lte=1"`
	Window              time.Duration `yaml:"window" validate:"gt=0"`
	WindowCapacity      int           `yaml:"window_capacity" validate:"min=1"`
	ShingleSize         int           `yaml:"shingle_size" validate:"min=1"`
}

// CategorizerConfig holds classification settings.
type CategorizerConfig struct {
	// Provider is lexicon (trained term weights) or completion (zero-shot via the completion provider).
	Provider            string  `yaml:"provider" validate:"oneof=lexicon completion"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	MaxAttempts         int     `yaml:"max_attempts" validate:"min=1"`
	// TrainingFile is an optional JSON Lines file of {category, text} examples for the lexicon model.
	TrainingFile string `yaml:"training_file"`
}

// EnrichmentConfig holds summary and embedding retry settings.
type EnrichmentConfig struct {
	// Summarizer is extractive or completion.
	Summarizer       string        `yaml:"summarizer" validate:"oneof=extractive completion"`
	SummarySentences int           `yaml:"summary_sentences" validate:"min=2,max=4"`
	MaxAttempts      int           `yaml:"max_attempts" validate:"min=1"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
}

// EmbeddingConfig holds embedder settings. ModelVersion is what stored vectors are
// checked against; changing it marks every stored vector stale.
type EmbeddingConfig struct {
	// Provider is hashing, onnx, or gemini.
	Provider     string `yaml:"provider" validate:"oneof=hashing onnx gemini"`
	ModelVersion string `yaml:"model_version"`
	Dimensions   int    `yaml:"dimensions" validate:"min=1"`
	ModelPath    string `yaml:"model_path"`
	MaxTokens    int    `yaml:"max_tokens"`
	Model        string `yaml:"model"`
	CacheSize    int    `yaml:"cache_size"`
}

// CompletionConfig selects the completion provider used for answers and, when
// configured, for classification and summaries.
type CompletionConfig struct {
	// Provider is extractive, gemini, or anthropic.
	Provider string `yaml:"provider" validate:"oneof=extractive gemini anthropic"`
}

// ProvidersConfig holds hosted model provider settings.
type ProvidersConfig struct {
	Gemini    ProviderConfig `yaml:"gemini"`
	Anthropic ProviderConfig `yaml:"anthropic"`
}

// ProviderConfig names a hosted model and the environment variable holding its API key.
type ProviderConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// APIKey reads the key from the configured environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// RetrievalConfig holds query settings.
type RetrievalConfig struct {
	TopK            int     `yaml:"top_k" validate:"min=1"`
	MaxTopK         int     `yaml:"max_top_k" validate:"gtefield=TopK"`
	SimilarityFloor float64 `yaml:"similarity_floor" validate:"gte=0,lte=1"`
	Candidates      int     `yaml:"candidates"`
	KeywordWeight   float64 `yaml:"keyword_weight" validate:"gte=0,lte=1"`
	ContextChars    int     `yaml:"context_chars"`
}

// HighlightsConfig holds daily highlight settings.
type HighlightsConfig struct {
	Count     int           `yaml:"count" validate:"min=1"`
	Threshold float64       `yaml:"threshold" validate:"gt=0,lte=1"`
	Boost     int           `yaml:"boost"`
	Window    time.Duration `yaml:"window"`
}

// TopicsConfig holds topic grouping settings. Articles of one category whose vectors are
// at least Threshold similar share a topic; groups smaller than MinSize get none.
type TopicsConfig struct {
	Threshold float64       `yaml:"threshold" validate:"gt=0,lte=1"`
	MinSize   int           `yaml:"min_size" validate:"min=2"`
	Window    time.Duration `yaml:"window"`
}

// PipelineConfig holds batch concurrency settings.
type PipelineConfig struct {
	Workers           int           `yaml:"workers" validate:"min=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	CallTimeout       time.Duration `yaml:"call_timeout" validate:"gt=0"`
	ReprocessLimit    int           `yaml:"reprocess_limit"`
}

// ScheduleConfig holds the batch cadence.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Reprocess retries pending articles after each scheduled batch.
	Reprocess bool `yaml:"reprocess"`
}

// CacheConfig holds the redis answer cache settings. An empty address disables the cache.
type CacheConfig struct {
	RedisAddr   string        `yaml:"redis_addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	TTL         time.Duration `yaml:"ttl"`
}

// InboxConfig holds the directories watched for payload files.
type InboxConfig struct {
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *InboxConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies defaults, expands paths,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorSnapshotPath = expandPath(cfg.Storage.VectorSnapshotPath, configDir)
	cfg.Source.SpoolDir = expandPath(cfg.Source.SpoolDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Categorizer.TrainingFile = expandPath(cfg.Categorizer.TrainingFile, configDir)
	for i := range cfg.Inbox.Directories {
		cfg.Inbox.Directories[i] = expandPath(cfg.Inbox.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and the category set.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", strings.ToLower(fe.Namespace()), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Categories) == 0 {
		return errors.New("invalid config: categories must not be empty")
	}
	for _, cat := range c.Categories {
		if !cat.Valid() || cat == models.CategoryUncategorized {
			return fmt.Errorf("invalid config: unknown category %q", cat)
		}
	}
	return nil
}

// Save writes the config to path. Used for persisting inbox directory changes.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
