package vector

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := NewMemoryIndex("bench-v1", 384)
	ctx := context.Background()
	entries := make([]Entry, 1000)
	categories := []string{"sports", "lifestyle", "music", "finance"}
	for i := range entries {
		v := make([]float32, 384)
		v[0] = float32(i) / 1000
		v[i%384] += 1
		entries[i] = Entry{
			ID:     fmt.Sprintf("art:%d", i),
			Vector: v,
			Attrs:  Attributes{Category: categories[i%4], PublishedAt: time.Unix(int64(i)*3600, 0)},
		}
	}
	_ = idx.Upsert(ctx, entries)
	query := make([]float32, 384)
	query[0] = 1.0
	finance := func(a Attributes) bool { return a.Category == "finance" }
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 10, finance)
	}
}
