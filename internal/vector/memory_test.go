package vector

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"
)

var day = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

func seeded(t *testing.T) *MemoryIndex {
	t.Helper()
	idx, err := NewMemoryIndex("v1", 3)
	if err != nil {
		t.Fatal(err)
	}
	err = idx.Upsert(context.Background(), []Entry{
		{ID: "a", Vector: []float32{1, 0, 0}, Attrs: Attributes{Category: "finance", PublishedAt: day}},
		{ID: "b", Vector: []float32{0.9, 0.1, 0}, Attrs: Attributes{Category: "sports", PublishedAt: day.Add(time.Hour)}},
		{ID: "c", Vector: []float32{0, 0, 2}, Attrs: Attributes{Category: "finance", PublishedAt: day.Add(48 * time.Hour)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func TestMemoryIndex_search(t *testing.T) {
	idx := seeded(t)
	ctx := context.Background()

	res, err := idx.Search(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || res[0].ID != "a" || res[1].ID != "b" {
		t.Fatalf("results = %+v", res)
	}
	if math.Abs(res[0].Score-1) > 1e-6 {
		t.Errorf("self score = %v", res[0].Score)
	}

	res, _ = idx.Search(ctx, []float32{1, 0, 0}, 5, func(a Attributes) bool { return a.Category == "finance" })
	if len(res) != 2 || res[0].ID != "a" || res[1].ID != "c" {
		t.Errorf("category filtered = %+v", res)
	}

	res, _ = idx.Search(ctx, []float32{1, 0, 0}, 5, func(a Attributes) bool { return a.PublishedAt.After(day) })
	if len(res) != 2 || res[0].ID != "b" {
		t.Errorf("date filtered = %+v", res)
	}

	if _, err := idx.Search(ctx, []float32{1, 0}, 1, nil); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if res, _ := idx.Search(ctx, []float32{1, 0, 0}, 0, nil); res != nil {
		t.Errorf("k=0 = %+v", res)
	}
}

func TestMemoryIndex_upsertReplaces(t *testing.T) {
	idx := seeded(t)
	ctx := context.Background()
	if err := idx.Upsert(ctx, []Entry{{ID: "a", Vector: []float32{0, 1, 0}}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size = %d, want 3", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{0, 1, 0}, 1, nil)
	if res[0].ID != "a" {
		t.Errorf("top = %s, want a", res[0].ID)
	}
	if err := idx.Upsert(ctx, []Entry{{ID: "d", Vector: []float32{1}}}); err == nil {
		t.Error("expected dimension error")
	}
}

func TestMemoryIndex_remove(t *testing.T) {
	idx := seeded(t)
	ctx := context.Background()
	if err := idx.Remove(ctx, []string{"a", "missing"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Fatalf("Size = %d", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{1, 0, 0}, 1, nil)
	if res[0].ID != "b" {
		t.Errorf("top = %s after removing a", res[0].ID)
	}
	// re-adding after a remove must not collide with stale positions
	if err := idx.Upsert(ctx, []Entry{{ID: "c", Vector: []float32{1, 0, 0}}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("Size = %d after replacing c", idx.Size())
	}
}

func TestMemoryIndex_saveLoad(t *testing.T) {
	idx := seeded(t)
	idx.SetCheckpoint(Checkpoint{Lineage: "db-1", Revision: 42})
	path := filepath.Join(t.TempDir(), "sub", "vectors.bin")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _ := NewMemoryIndex("v1", 3)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != 3 {
		t.Fatalf("loaded Size = %d", loaded.Size())
	}
	if cp := loaded.Checkpoint(); cp.Lineage != "db-1" || cp.Revision != 42 {
		t.Errorf("checkpoint = %+v", cp)
	}
	entries := loaded.Vectors(func(a Attributes) bool { return a.Category == "sports" })
	if len(entries) != 1 || entries[0].ID != "b" || !entries[0].Attrs.PublishedAt.Equal(day.Add(time.Hour)) {
		t.Errorf("sports entries = %+v", entries)
	}

	other, _ := NewMemoryIndex("v2", 3)
	if err := other.Load(path); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Load other version err = %v", err)
	}
	wrongDim, _ := NewMemoryIndex("v1", 4)
	if err := wrongDim.Load(path); err == nil {
		t.Error("expected dimension mismatch")
	}
	if err := loaded.Load(filepath.Join(t.TempDir(), "missing.bin")); err != nil || loaded.Size() != 3 {
		t.Errorf("missing file: err=%v size=%d", err, loaded.Size())
	}
}

func TestMemoryIndex_replace(t *testing.T) {
	idx := seeded(t)
	ctx := context.Background()
	err := idx.Replace(ctx, []Entry{
		{ID: "z", Vector: []float32{0, 0, 2}, Attrs: Attributes{Category: "finance"}},
		{ID: "a", Vector: []float32{3, 0, 0}},
	})
	if err != nil {
		t.Fatal(err)
	}
	ids := idx.IDs()
	sort.Strings(ids)
	if !reflect.DeepEqual(ids, []string{"a", "z"}) {
		t.Errorf("IDs = %v", ids)
	}
	got, err := idx.Search(ctx, []float32{0, 0, 1}, 1, nil)
	if err != nil || len(got) != 1 || got[0].ID != "z" || math.Abs(got[0].Score-1) > 1e-6 {
		t.Errorf("Search = %+v, %v", got, err)
	}
	if err := idx.Replace(ctx, []Entry{{ID: "bad", Vector: []float32{1}}}); err == nil {
		t.Error("expected a dimension error")
	}
	if idx.Size() != 2 {
		t.Errorf("failed Replace changed the index: size %d", idx.Size())
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{2, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("parallel = %v", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal = %v", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1) > 1e-9 {
		t.Errorf("opposite = %v", got)
	}
	if CosineSimilarity([]float32{0, 0}, []float32{1, 0}) != 0 || CosineSimilarity([]float32{1}, []float32{1, 0}) != 0 {
		t.Error("degenerate inputs should score 0")
	}
	if _, err := NewMemoryIndex("v1", 0); err == nil {
		t.Error("expected error for zero dimensions")
	}
}
