package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

func newArticle(id, title, text string, c models.Category) *models.EnrichedArticle {
	return &models.EnrichedArticle{
		Article: models.Article{
			ID:          id,
			Source:      "abc",
			Title:       title,
			RawText:     text,
			PublishedAt: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		},
		Category: c,
		Summary:  "Summary: " + title,
	}
}

func TestBleveIndex_SearchFindsText(t *testing.T) {
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	ctx := context.Background()

	a := newArticle("art:1", "RBA holds rates", "Governor Michele Bullock said inflation remained too high.", models.CategoryFinance)
	if err := idx.Index(ctx, a); err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := idx.Search(ctx, "Bullock", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "art:1" {
		t.Fatalf("results = %+v", results)
	}

	results, _ = idx.Search(ctx, "holds", 10, &SearchOptions{TitleBoost: 3})
	if len(results) != 1 {
		t.Errorf("title search = %+v", results)
	}
	if results, _ := idx.Search(ctx, "  ", 10, nil); results != nil {
		t.Errorf("blank query = %+v", results)
	}
}

func TestBleveIndex_CategoryFilter(t *testing.T) {
	idx, err := NewMemBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	_ = idx.Index(ctx, newArticle("art:1", "Swans win final", "The Swans won the grand final.", models.CategorySports))
	_ = idx.Index(ctx, newArticle("art:2", "Final rate decision", "The final rate decision of the year.", models.CategoryFinance))

	results, err := idx.Search(ctx, "final", 10, &SearchOptions{Category: models.CategorySports})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "art:1" {
		t.Errorf("sports results = %+v", results)
	}
	results, _ = idx.Search(ctx, "final", 10, nil)
	if len(results) != 2 {
		t.Errorf("unfiltered = %+v", results)
	}
	if n, _ := idx.DocCount(); n != 2 {
		t.Errorf("DocCount = %d", n)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx, err := NewMemBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	_ = idx.Index(ctx, newArticle("art:1", "Concert review", "The orchestra played Beethoven.", models.CategoryMusic))

	if results, _ := idx.Search(ctx, "beethovan", 10, nil); len(results) != 0 {
		t.Errorf("exact search matched a typo: %+v", results)
	}
	results, _ := idx.Search(ctx, "beethovan", 10, &SearchOptions{FuzzyEnabled: true})
	if len(results) != 1 {
		t.Errorf("fuzzy results = %+v", results)
	}
}

func TestBleveIndex_ReopenAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "bleve")
	ctx := context.Background()

	idx1, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	_ = idx1.Index(ctx, newArticle("art:1", "T", "uniqueword", models.CategoryLifestyle))
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("index path should exist: %v", err)
	}

	idx2, err := NewBleveIndex(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() {
		_ = idx2.Close()
	}()
	results, _ := idx2.Search(ctx, "uniqueword", 10, nil)
	if len(results) != 1 {
		t.Fatalf("after reopen got %d results", len(results))
	}

	if err := idx2.Delete(ctx, "art:1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, _ = idx2.Search(ctx, "uniqueword", 10, nil)
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
}
