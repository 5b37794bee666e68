package embedding

import (
	"context"
	"testing"
)

func BenchmarkHashingEmbedder_Embed(b *testing.B) {
	e := NewHashingEmbedder("hash-v1", 384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding the reserve bank decision")
	}
}
