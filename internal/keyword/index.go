// Package keyword provides keyword (BM25) indexing and search over articles.
package keyword

import (
	"context"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// Category restricts hits to one category. Empty means all.
	Category models.Category
	// TitleBoost multiplies the contribution of title matches. Values <= 1 mean no boost.
	TitleBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance (1 or 2). Default is 1.
	Fuzziness int
}

// KeywordIndex defines keyword search operations.
type KeywordIndex interface {
	Index(ctx context.Context, a *models.EnrichedArticle) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	Close() error
	// DocCount returns the total number of documents in the index.
	DocCount() (uint64, error)
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    string
	Score float64
}

// Document is the indexed form of an article.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Text        string    `json:"text"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
}

// DocumentFromArticle builds the indexed document for a.
func DocumentFromArticle(a *models.EnrichedArticle) *Document {
	return &Document{
		ID:          a.ID,
		Title:       a.Title,
		Summary:     a.Summary,
		Text:        a.RawText,
		Source:      a.Source,
		Category:    string(a.Category),
		PublishedAt: a.PublishedAt,
	}
}
