// Package storage defines the persistence interface for enriched articles.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/vector"
)

// Store persists enriched articles and answers listing and similarity queries.
type Store interface {
	// Writes
	Upsert(ctx context.Context, a *models.EnrichedArticle) error
	SetFeatured(ctx context.Context, c models.Category, ids []string, at time.Time) error
	SetTopicClusters(ctx context.Context, c models.Category, r models.DateRange, clusters map[string]string) error
	Purge(ctx context.Context, before time.Time) (int64, error)

	// Lookups
	Get(ctx context.Context, id string) (*models.EnrichedArticle, error)
	GetMany(ctx context.Context, ids []string) (map[string]*models.EnrichedArticle, error)
	Exists(ctx context.Context, id string) (bool, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	ExistingURLs(ctx context.Context, keys []string) (map[string]string, error)

	// Queries
	ListByCategory(ctx context.Context, c models.Category, r models.DateRange, p models.Page) ([]*models.EnrichedArticle, error)
	SimilaritySearch(ctx context.Context, q models.Embedding, k int, f models.SearchFilters) (*models.SearchResult, error)
	CategoryVectors(ctx context.Context, c models.Category, r models.DateRange) ([]vector.Entry, error)
	Recent(ctx context.Context, since time.Time) ([]*models.Article, error)
	ListForReprocess(ctx context.Context, limit int) ([]*models.EnrichedArticle, error)
	Featured(ctx context.Context, c models.Category) ([]*models.EnrichedArticle, error)
	TopicClusters(ctx context.Context, c models.Category) (map[string][]string, error)

	// Stats
	Stats(ctx context.Context) (*models.StoreStats, error)
	ActiveVersion() string

	Close() error
}
