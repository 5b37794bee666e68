// Package models defines core data structures for articles, enrichment, queries, and errors.
package models

import "time"

// RawPayload is what the fetch capability hands over for a single article.
// RawText carries text or markup; Body carries binary content (PDF, DOCX) when present.
type RawPayload struct {
	Source      string `json:"source" validate:"required"`
	URL         string `json:"url" validate:"required,url"`
	Timestamp   string `json:"timestamp" validate:"required"`
	Title       string `json:"title,omitempty"`
	RawText     string `json:"raw_text,omitempty" validate:"required_without=Body"`
	Body        []byte `json:"body,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// Article is the canonical record produced by the source adapter. Immutable once stored.
type Article struct {
	ID          string    `json:"id" db:"id"`
	Source      string    `json:"source" db:"source"`
	URL         string    `json:"url" db:"url"`
	Title       string    `json:"title,omitempty" db:"title"`
	PublishedAt time.Time `json:"published_at" db:"published_at"`
	RawText     string    `json:"raw_text" db:"raw_text"`
	FetchedAt   time.Time `json:"fetched_at" db:"fetched_at"`
}

// EnrichedArticle is an Article plus category, summary, and embedding.
type EnrichedArticle struct {
	Article

	Category             Category `json:"category" db:"category"`
	Confidence           float64  `json:"confidence" db:"confidence"`
	CategoryNote         string   `json:"category_note,omitempty" db:"category_note"`
	ClassificationFailed bool     `json:"classification_failed,omitempty" db:"classification_failed"`

	Summary           string     `json:"summary,omitempty" db:"summary"`
	Embedding         *Embedding `json:"-" db:"-"`
	EnrichmentVersion string     `json:"enrichment_version" db:"enrichment_version"`
	PendingEnrichment bool       `json:"pending_enrichment" db:"pending_enrichment"`
	EnrichmentError   string     `json:"enrichment_error,omitempty" db:"enrichment_error"`

	Featured       bool       `json:"featured,omitempty" db:"featured"`
	FeaturedAt     *time.Time `json:"featured_at,omitempty" db:"featured_at"`
	// TopicClusterID groups articles of one category covering the same story. Empty when
	// the article has no close neighbours.
	TopicClusterID string     `json:"topic_cluster_id,omitempty" db:"topic_cluster_id"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Searchable reports whether the article carries an embedding.
func (e *EnrichedArticle) Searchable() bool {
	return e.Embedding != nil && len(e.Embedding.Vector) > 0
}

// Displayable reports whether the article carries a summary.
func (e *EnrichedArticle) Displayable() bool {
	return e.Summary != ""
}

// EmbeddingInput is the text the embedder sees: title and body, capped at maxRunes.
func (a *Article) EmbeddingInput(maxRunes int) string {
	text := a.RawText
	if a.Title != "" {
		text = a.Title + "\n" + text
	}
	return truncateRunes(text, maxRunes)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
