package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/pkg/utils"
)

// HashingEmbedder maps content words into a fixed number of signed buckets and
// L2-normalizes the result. It needs no model files or network, and texts that
// share vocabulary land close together.
type HashingEmbedder struct {
	version    string
	dimensions int
}

// NewHashingEmbedder returns a hashing embedder reporting version as its model version.
func NewHashingEmbedder(version string, dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	if version == "" {
		version = "hashing-v1"
	}
	return &HashingEmbedder{version: version, dimensions: dimensions}
}

// Embed returns the hashed bag-of-words vector of text. Text without content words
// embeds to the zero vector.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) (models.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return models.Embedding{}, err
	}
	tf := make(map[string]int)
	for _, tok := range utils.Tokenize(text) {
		tf[tok]++
	}

	vec := make([]float32, e.dimensions)
	h := fnv.New64a()
	for tok, n := range tf {
		h.Reset()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		weight := float32(1 + math.Log(float64(n)))
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}
	utils.NormalizeL2(vec)
	return models.Embedding{Version: e.version, Vector: vec}, nil
}

// ModelVersion returns the configured version string.
func (e *HashingEmbedder) ModelVersion() string {
	return e.version
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashingEmbedder) Close() error {
	return nil
}
