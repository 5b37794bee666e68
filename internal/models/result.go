package models

import "time"

// ScoredArticle is a single retrieval hit.
type ScoredArticle struct {
	Article       *EnrichedArticle `json:"article"`
	Score         float64          `json:"score"`
	SemanticScore float64          `json:"semantic_score"`
	KeywordScore  float64          `json:"keyword_score,omitempty"`
	Rank          int              `json:"rank"`
}

// SearchResult is the store's answer to a similarity search.
// Degraded is set when no vector of the active version exists but older ones do.
type SearchResult struct {
	Hits          []*ScoredArticle `json:"hits"`
	ActiveVersion string           `json:"active_version"`
	Degraded      bool             `json:"degraded,omitempty"`
	StaleCount    int              `json:"stale_count,omitempty"`
}

// Citation identifies a retrieved article used to ground an answer.
type Citation struct {
	Index       int       `json:"index"`
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title,omitempty"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Score       float64   `json:"score"`
}

// QueryResult is the ephemeral output of a question. It is never persisted.
type QueryResult struct {
	QueryText       string           `json:"query"`
	Scope           Category         `json:"scope,omitempty"`
	MatchedArticles []*ScoredArticle `json:"matched_articles"`
	GeneratedAnswer string           `json:"generated_answer"`
	Citations       []Citation       `json:"citations"`
	ModelVersion    string           `json:"model_version"`
	Cached          bool             `json:"cached,omitempty"`
	QueryTime       int64            `json:"query_time_ms"`
}

// StoreStats summarizes the store for status endpoints.
type StoreStats struct {
	Articles      int64              `json:"articles"`
	ByCategory    map[Category]int64 `json:"by_category"`
	Searchable    int64              `json:"searchable"`
	Pending       int64              `json:"pending_enrichment"`
	Stale         int64              `json:"stale_version"`
	ActiveVersion string             `json:"active_version"`
	IndexSize     int                `json:"vector_index_size"`
}
