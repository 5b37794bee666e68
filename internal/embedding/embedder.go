// Package embedding provides text embedding via ONNX, Gemini, or feature hashing, with caching.
package embedding

import (
	"context"

	"github.com/hyperjump/kiji/internal/models"
)

// Embedder produces versioned vector embeddings for text. Every embedding it returns
// carries ModelVersion, and vectors from different versions must never be compared.
type Embedder interface {
	Embed(ctx context.Context, text string) (models.Embedding, error)
	ModelVersion() string
	Dimensions() int
	Close() error
}
