package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vector"
	"github.com/hyperjump/kiji/pkg/utils"
)

const (
	DefaultTopicThreshold = 0.8
	DefaultTopicMinSize   = 2
	DefaultTopicWindow    = 7 * 24 * time.Hour
)

// TopicGrouper groups each category's articles into topics: articles linked by a chain
// of pairwise similarities of at least Threshold share a topic. Groups smaller than
// MinSize are noise and carry no topic.
type TopicGrouper struct {
	store     storage.Store
	Threshold float64
	MinSize   int
	// Window limits grouping to articles published this long before now. Zero means all.
	Window time.Duration
	Now    func() time.Time
	logger *zap.Logger
}

// NewTopicGrouper returns a TopicGrouper with the default parameters.
func NewTopicGrouper(store storage.Store, logger *zap.Logger) *TopicGrouper {
	logger = utils.Named(logger, "topics")
	return &TopicGrouper{
		store:     store,
		Threshold: DefaultTopicThreshold,
		MinSize:   DefaultTopicMinSize,
		Window:    DefaultTopicWindow,
		Now:       time.Now,
		logger:    logger,
	}
}

// Group recomputes the topics of c and stores each article's topic cluster ID.
// It returns the member IDs per cluster ID.
func (g *TopicGrouper) Group(ctx context.Context, c models.Category) (map[string][]string, error) {
	var r models.DateRange
	if g.Window > 0 {
		r.From = g.Now().UTC().Add(-g.Window)
	}
	entries, err := g.store.CategoryVectors(ctx, c, r)
	if err != nil {
		return nil, fmt.Errorf("load %s vectors: %w", c, err)
	}

	groups := Cluster(entries, g.Threshold, g.MinSize)
	out := make(map[string][]string, len(groups))
	assigned := make(map[string]string)
	for i, members := range groups {
		id := fmt.Sprintf("%s-%d", c, i+1)
		out[id] = members
		for _, m := range members {
			assigned[m] = id
		}
	}
	if err := g.store.SetTopicClusters(ctx, c, r, assigned); err != nil {
		return nil, fmt.Errorf("store %s topics: %w", c, err)
	}
	g.logger.Info("Grouped topics",
		zap.String("category", string(c)),
		zap.Int("articles", len(entries)),
		zap.Int("topics", len(out)),
		zap.Int("grouped", len(assigned)))
	return out, nil
}

// GroupAll groups every category and returns the topic count per category.
// A failing category is logged and skipped; the first error is returned.
func (g *TopicGrouper) GroupAll(ctx context.Context) (map[models.Category]int, error) {
	out := make(map[models.Category]int, len(models.Categories))
	var firstErr error
	for _, c := range models.Categories {
		topics, err := g.Group(ctx, c)
		if err != nil {
			g.logger.Warn("Failed to group topics", zap.String("category", string(c)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out[c] = len(topics)
	}
	return out, firstErr
}

// Cluster links every pair of entries whose cosine similarity is at least threshold and
// returns the connected groups of at least minSize members. Members are ordered newest
// first; groups are ordered largest first, then by their newest member.
func Cluster(entries []vector.Entry, threshold float64, minSize int) [][]string {
	sorted := make([]vector.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Attrs.PublishedAt.Equal(b.Attrs.PublishedAt) {
			return a.Attrs.PublishedAt.After(b.Attrs.PublishedAt)
		}
		return a.ID < b.ID
	})

	parent := make([]int, len(sorted))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if vector.CosineSimilarity(sorted[i].Vector, sorted[j].Vector) >= threshold {
				ri, rj := find(i), find(j)
				// The root stays the newest member so groups keep first-seen order.
				if ri < rj {
					parent[rj] = ri
				} else if rj < ri {
					parent[ri] = rj
				}
			}
		}
	}

	byRoot := make(map[int][]string)
	var roots []int
	for i, e := range sorted {
		r := find(i)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], e.ID)
	}
	var groups [][]string
	for _, r := range roots {
		if len(byRoot[r]) >= minSize {
			groups = append(groups, byRoot[r])
		}
	}
	sort.SliceStable(groups, func(i, j int) bool { return len(groups[i]) > len(groups[j]) })
	return groups
}
