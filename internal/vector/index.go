// Package vector provides vector index and similarity search.
package vector

import (
	"context"
	"time"
)

// Attributes are the filterable metadata stored alongside a vector.
type Attributes struct {
	Category    string
	PublishedAt time.Time
}

// Filter reports whether an entry is eligible for a search. A nil Filter admits everything.
type Filter func(Attributes) bool

// Entry is one vector with its id and attributes.
type Entry struct {
	ID     string
	Vector []float32
	Attrs  Attributes
}

// Result is a single vector search hit.
type Result struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1]
}

// Index stores vectors of a single model version and answers filtered top-k queries.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Version() string
	Close() error
}
