package models

import (
	"fmt"
	"strings"
	"time"
)

// DateRange bounds published_at. Zero From or To leaves that side open.
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls inside the range (From inclusive, To exclusive).
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Page is an offset/limit window over an ordered listing.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Normalize applies the default limit and caps it at max.
func (p Page) Normalize(defaultLimit, max int) Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 {
		p.Limit = defaultLimit
	}
	if max > 0 && p.Limit > max {
		p.Limit = max
	}
	return p
}

// SearchFilters narrow a similarity search. An empty Category means all categories.
type SearchFilters struct {
	Category Category
	Range    DateRange
}

// Query is a natural-language question against the corpus.
type Query struct {
	Text     string    `json:"query"`
	Category Category  `json:"category,omitempty"`
	Range    DateRange `json:"range,omitempty"`
	TopK     int       `json:"top_k,omitempty"`
	// NoScope disables category inference from the question text.
	NoScope bool `json:"no_scope,omitempty"`
}

// Validate trims the text, checks the category, and clamps TopK into [1, maxTopK].
func (q *Query) Validate(defaultTopK, maxTopK int) error {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.Category != "" && !q.Category.Valid() {
		return fmt.Errorf("unknown category %q", q.Category)
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}
	if maxTopK > 0 && q.TopK > maxTopK {
		q.TopK = maxTopK
	}
	return nil
}
