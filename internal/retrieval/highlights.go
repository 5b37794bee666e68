package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vector"
	"github.com/hyperjump/kiji/pkg/utils"
)

// HighlightKeywords mark an article as urgent news.
var HighlightKeywords = []string{"breaking news", "exclusive", "just in", "confirmed", "revealed"}

const (
	DefaultHighlightCount     = 5
	DefaultHighlightThreshold = 0.9
	DefaultHighlightBoost     = 5
	DefaultHighlightWindow    = 48 * time.Hour
)

// Highlighter picks each category's featured articles: those most echoed by other
// coverage in the same category, with a boost for urgent-news wording.
type Highlighter struct {
	store     storage.Store
	Count     int
	Threshold float64
	Boost     int
	// Window limits candidates to articles published this long before now. Zero means all.
	Window time.Duration
	Now    func() time.Time
	logger *zap.Logger
}

// NewHighlighter returns a Highlighter with the default scoring parameters.
func NewHighlighter(store storage.Store, logger *zap.Logger) *Highlighter {
	logger = utils.Named(logger, "highlights")
	return &Highlighter{
		store:     store,
		Count:     DefaultHighlightCount,
		Threshold: DefaultHighlightThreshold,
		Boost:     DefaultHighlightBoost,
		Window:    DefaultHighlightWindow,
		Now:       time.Now,
		logger:    logger,
	}
}

type candidate struct {
	id        string
	score     int
	published time.Time
}

// Refresh recomputes the featured articles of c and stores them. It returns the featured
// IDs in rank order. Articles without a current-version embedding are not candidates.
func (h *Highlighter) Refresh(ctx context.Context, c models.Category) ([]string, error) {
	now := h.Now().UTC()
	var r models.DateRange
	if h.Window > 0 {
		r.From = now.Add(-h.Window)
	}
	entries, err := h.store.CategoryVectors(ctx, c, r)
	if err != nil {
		return nil, fmt.Errorf("load %s vectors: %w", c, err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	articles, err := h.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load %s articles: %w", c, err)
	}

	candidates := make([]candidate, 0, len(entries))
	for i, e := range entries {
		score := 0
		for j, other := range entries {
			if i != j && vector.CosineSimilarity(e.Vector, other.Vector) > h.Threshold {
				score++
			}
		}
		if a, ok := articles[e.ID]; ok && HasHighlightKeyword(a.Title+" "+a.RawText) {
			score += h.Boost
		}
		candidates = append(candidates, candidate{id: e.ID, score: score, published: e.Attrs.PublishedAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.published.Equal(b.published) {
			return a.published.After(b.published)
		}
		return a.id < b.id
	})
	if len(candidates) > h.Count {
		candidates = candidates[:h.Count]
	}

	featured := make([]string, len(candidates))
	for i, cand := range candidates {
		featured[i] = cand.id
	}
	if err := h.store.SetFeatured(ctx, c, featured, now); err != nil {
		return nil, fmt.Errorf("store %s highlights: %w", c, err)
	}
	h.logger.Info("Refreshed highlights",
		zap.String("category", string(c)),
		zap.Int("candidates", len(entries)),
		zap.Int("featured", len(featured)))
	return featured, nil
}

// RefreshAll refreshes every category and returns the featured IDs per category.
// A failing category is logged and skipped; the first error is returned.
func (h *Highlighter) RefreshAll(ctx context.Context) (map[models.Category][]string, error) {
	out := make(map[models.Category][]string, len(models.Categories))
	var firstErr error
	for _, c := range models.Categories {
		ids, err := h.Refresh(ctx, c)
		if err != nil {
			h.logger.Warn("Failed to refresh highlights", zap.String("category", string(c)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[c] = ids
	}
	return out, firstErr
}

// HasHighlightKeyword reports whether text contains one of HighlightKeywords, ignoring case.
func HasHighlightKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range HighlightKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
