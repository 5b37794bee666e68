package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"google.golang.org/genai"
)

// DefaultGeminiEmbedModel is the embedding model used when none is configured.
const DefaultGeminiEmbedModel = "gemini-embedding-001"

// GeminiConfig configures a GeminiEmbedder.
type GeminiConfig struct {
	APIKey string
	Model  string
	// Version is the model version stamped on vectors. Empty means Model@Dimensions.
	Version    string
	Dimensions int
}

// GeminiEmbedder embeds text with the Gemini embedding API. Unless a version is
// configured, its model version is the model name plus the output dimension, since
// both change the vector space.
type GeminiEmbedder struct {
	client *genai.Client
	config GeminiConfig
}

// NewGeminiEmbedder creates a Gemini client for the configured embedding model.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini embedder: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiEmbedModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}
	if cfg.Version == "" {
		cfg.Version = fmt.Sprintf("%s@%d", cfg.Model, cfg.Dimensions)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return &GeminiEmbedder{client: client, config: cfg}, nil
}

// Embed returns the embedding of text at the configured dimensionality.
func (g *GeminiEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	dim := int32(g.config.Dimensions)
	result, err := g.client.Models.EmbedContent(ctx, g.config.Model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{OutputDimensionality: &dim})
	if err != nil {
		return models.Embedding{}, llm.ClassifyError("embedding", fmt.Errorf("gemini embed: %w", err))
	}

	var values []float32
	if result != nil && len(result.Embeddings) > 0 && result.Embeddings[0] != nil {
		values = result.Embeddings[0].Values
	}
	if len(values) == 0 {
		return models.Embedding{}, fmt.Errorf("gemini embed: no embedding returned")
	}
	if len(values) != g.config.Dimensions {
		return models.Embedding{}, fmt.Errorf("gemini embed: dimension mismatch: expected %d, got %d", g.config.Dimensions, len(values))
	}
	vec := make([]float32, len(values))
	copy(vec, values)
	NormalizeL2Slice(vec)
	return models.Embedding{Version: g.ModelVersion(), Vector: vec}, nil
}

// ModelVersion identifies the vector space this embedder produces.
func (g *GeminiEmbedder) ModelVersion() string {
	return g.config.Version
}

// Dimensions returns the configured output dimensionality.
func (g *GeminiEmbedder) Dimensions() int {
	return g.config.Dimensions
}

// Close is a no-op; the genai client holds no resources that need releasing.
func (g *GeminiEmbedder) Close() error {
	return nil
}
