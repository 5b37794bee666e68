package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
dedup:
  similarity_threshold: 0.9
  window: 24h
schedule:
  cron: "30 5 * * *"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Dedup.SimilarityThreshold != 0.9 || cfg.Dedup.Window != 24*time.Hour {
		t.Errorf("dedup = %+v", cfg.Dedup)
	}
	if cfg.Schedule.Cron != "30 5 * * *" {
		t.Errorf("cron = %q", cfg.Schedule.Cron)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/articles.db"
inbox:
  directories: ["./inbox/abc"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "articles.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Inbox.Directories) != 1 || cfg.Inbox.Directories[0] != filepath.Join(dir, "inbox", "abc") {
		t.Errorf("inbox directories = %v", cfg.Inbox.Directories)
	}
	if cfg.Source.SpoolDir != "" {
		t.Errorf("empty spool_dir expanded to %q", cfg.Source.SpoolDir)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"threshold above one", "dedup:\n  similarity_threshold: 1.5\n", "similaritythreshold"},
		{"unknown embedding provider", "embedding:\n  provider: word2vec\n", "provider"},
		{"too many summary sentences", "enrichment:\n  summary_sentences: 9\n", "summarysentences"},
		{"max top k below top k", "retrieval:\n  top_k: 10\n  max_top_k: 5\n", "maxtopk"},
		{"unknown category", "categories: [sports, weather]\n", "weather"},
		{"uncategorized is not assignable", "categories: [uncategorized]\n", "uncategorized"},
		{"single article topics", "topics:\n  min_size: 1\n", "minsize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if len(cfg.Categories) != len(models.Categories) {
		t.Errorf("categories = %v", cfg.Categories)
	}
	if cfg.Dedup.SimilarityThreshold != 0.85 || cfg.Dedup.Window != 48*time.Hour || cfg.Dedup.ShingleSize != 1 {
		t.Errorf("dedup defaults: %+v", cfg.Dedup)
	}
	if cfg.Source.MinTextLength != 200 {
		t.Errorf("min_text_length = %d", cfg.Source.MinTextLength)
	}
	if cfg.Categorizer.ConfidenceThreshold != 0.5 || cfg.Categorizer.MaxAttempts != 3 {
		t.Errorf("categorizer defaults: %+v", cfg.Categorizer)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top_k = %d", cfg.Retrieval.TopK)
	}
	if cfg.Embedding.ModelVersion != "hashing-v1" {
		t.Errorf("model_version = %q", cfg.Embedding.ModelVersion)
	}
	if cfg.Topics.Threshold != 0.8 || cfg.Topics.MinSize != 2 || cfg.Topics.Window != 7*24*time.Hour {
		t.Errorf("topics defaults: %+v", cfg.Topics)
	}
	if cfg.Schedule.Cron != "0 6 * * *" {
		t.Errorf("cron = %q", cfg.Schedule.Cron)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestApplyDefaults_embeddingVersion(t *testing.T) {
	tests := []struct {
		name      string
		embedding EmbeddingConfig
		want      string
	}{
		{"hashing", EmbeddingConfig{}, "hashing-v1"},
		{"gemini derives from model and size", EmbeddingConfig{Provider: "gemini", Dimensions: 768}, "gemini-embedding-001@768"},
		{"gemini custom model", EmbeddingConfig{Provider: "gemini", Model: "text-embedding-005", Dimensions: 256}, "text-embedding-005@256"},
		{"explicit version wins", EmbeddingConfig{Provider: "gemini", ModelVersion: "news-v2"}, "news-v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Embedding: tt.embedding}
			ApplyDefaults(cfg)
			if cfg.Embedding.ModelVersion != tt.want {
				t.Errorf("model_version = %q, want %q", cfg.Embedding.ModelVersion, tt.want)
			}
		})
	}
}

func TestApplyDefaults_categoriesNotShared(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Categories[0] = "changed"
	if models.Categories[0] == "changed" {
		t.Fatal("defaults alias the package category list")
	}
}

func TestApplyDefaults_InboxRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Inbox: InboxConfig{Directories: []string{"/tmp/inbox"}}}
	ApplyDefaults(cfg)
	if cfg.Inbox.Recursive == nil || !*cfg.Inbox.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestInboxConfig_RecursiveOrDefault(t *testing.T) {
	f, tr := false, true
	tests := []struct {
		name string
		in   *bool
		want bool
	}{
		{"nil_returns_true", nil, true},
		{"true_returns_true", &tr, true},
		{"false_returns_false", &f, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &InboxConfig{Recursive: tt.in}
			if got := w.RecursiveOrDefault(); got != tt.want {
				t.Errorf("RecursiveOrDefault() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderConfig_APIKey(t *testing.T) {
	t.Setenv("KIJI_TEST_KEY", "secret")
	if got := (ProviderConfig{APIKeyEnv: "KIJI_TEST_KEY"}).APIKey(); got != "secret" {
		t.Errorf("APIKey() = %q", got)
	}
	if got := (ProviderConfig{}).APIKey(); got != "" {
		t.Errorf("APIKey() without env = %q", got)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{DatabasePath: "/tmp/db"},
		Dedup:   DedupConfig{Window: 12 * time.Hour},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 || loaded.Dedup.Window != 12*time.Hour {
		t.Errorf("loaded = %+v %+v", loaded.Server, loaded.Dedup)
	}
}
