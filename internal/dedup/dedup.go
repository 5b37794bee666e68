package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/kiji/internal/fingerprint"
	"github.com/hyperjump/kiji/internal/models"
	"go.uber.org/zap"
)

// Default policy values. All of them are configurable.
const (
	DefaultThreshold   = 0.85
	DefaultWindowSpan  = 48 * time.Hour
	DefaultCapacity    = 10000
	DefaultShingleSize = 1
)

// Discard reasons.
const (
	ReasonExact = "exact"
	ReasonURL   = "url"
	ReasonNear  = "near_duplicate"
)

// Lookup is the store view the deduplicator needs for exact matching.
type Lookup interface {
	// ExistingIDs returns the subset of ids already stored.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
	// ExistingURLs maps each stored URL key in keys to the id of the article holding it.
	ExistingURLs(ctx context.Context, keys []string) (map[string]string, error)
}

// Discard records why an article was dropped.
type Discard struct {
	ArticleID   string  `json:"article_id"`
	URL         string  `json:"url"`
	Reason      string  `json:"reason"`
	DuplicateOf string  `json:"duplicate_of,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
}

// Result is the outcome of filtering one batch.
type Result struct {
	Unique     []*models.Article
	Discards   []Discard
	ExactCount int
	NearCount  int
}

// Deduplicator filters batches against the store and a trailing window of signatures.
type Deduplicator struct {
	lookup      Lookup
	window      *Window
	shingleSize int
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Deduplicator) { d.logger = l }
}

// WithShingleSize sets the number of words per shingle.
func WithShingleSize(n int) Option {
	return func(d *Deduplicator) { d.shingleSize = n }
}

// WithClock sets the clock used to time window admissions.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

// New returns a Deduplicator. lookup may be nil, which disables exact matching against stored history.
func New(lookup Lookup, window *Window, opts ...Option) *Deduplicator {
	if window == nil {
		window = NewWindow(DefaultCapacity, DefaultWindowSpan, DefaultThreshold)
	}
	d := &Deduplicator{
		lookup:      lookup,
		window:      window,
		shingleSize: DefaultShingleSize,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the trailing window.
func (d *Deduplicator) Window() *Window {
	return d.window
}

// Filter drops stored articles, URL repeats, and near-duplicates. Articles are
// considered earliest first, then longest first, so the kept instance of a
// near-duplicate group is the earliest and most complete one. Kept articles enter the
// window; release the ones that are not stored afterwards.
func (d *Deduplicator) Filter(ctx context.Context, articles []*models.Article) (*Result, error) {
	res := &Result{}
	if len(articles) == 0 {
		return res, nil
	}

	ordered := make([]*models.Article, len(articles))
	copy(ordered, articles)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.Before(b.PublishedAt)
		}
		if la, lb := utf8.RuneCountInString(a.RawText), utf8.RuneCountInString(b.RawText); la != lb {
			return la > lb
		}
		return a.ID < b.ID
	})

	storedIDs, storedURLs, err := d.existing(ctx, ordered)
	if err != nil {
		return nil, err
	}

	now := d.now()
	seenIDs := make(map[string]bool, len(ordered))
	seenURLs := make(map[string]string, len(ordered))
	for _, a := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := fingerprint.URLKey(a.URL)

		switch {
		case storedIDs[a.ID]:
			res.discard(Discard{ArticleID: a.ID, URL: a.URL, Reason: ReasonExact, DuplicateOf: a.ID})
			continue
		case seenIDs[a.ID]:
			res.discard(Discard{ArticleID: a.ID, URL: a.URL, Reason: ReasonExact, DuplicateOf: a.ID})
			continue
		case storedURLs[key] != "":
			res.discard(Discard{ArticleID: a.ID, URL: a.URL, Reason: ReasonURL, DuplicateOf: storedURLs[key]})
			continue
		case seenURLs[key] != "":
			res.discard(Discard{ArticleID: a.ID, URL: a.URL, Reason: ReasonURL, DuplicateOf: seenURLs[key]})
			continue
		}

		sig := NewSignature(a.RawText, d.shingleSize)
		if dupOf, score, ok := d.window.Admit(a.ID, sig, now); !ok {
			res.discard(Discard{ArticleID: a.ID, URL: a.URL, Reason: ReasonNear, DuplicateOf: dupOf, Similarity: score})
			d.logger.Debug("Near-duplicate dropped",
				zap.String("article_id", a.ID),
				zap.String("duplicate_of", dupOf),
				zap.Float64("similarity", score))
			continue
		}

		seenIDs[a.ID] = true
		seenURLs[key] = a.ID
		res.Unique = append(res.Unique, a)
	}

	d.logger.Info("Deduplicated batch",
		zap.Int("input", len(articles)),
		zap.Int("unique", len(res.Unique)),
		zap.Int("exact", res.ExactCount),
		zap.Int("near", res.NearCount))
	return res, nil
}

// Release takes the signatures of ids back out of the window. Callers release articles
// that passed Filter but were never stored, so later copies of them are not discarded.
func (d *Deduplicator) Release(ids ...string) {
	if n := d.window.Remove(ids...); n > 0 {
		d.logger.Debug("Released unstored signatures", zap.Int("released", n))
	}
}

func (d *Deduplicator) existing(ctx context.Context, articles []*models.Article) (map[string]bool, map[string]string, error) {
	if d.lookup == nil {
		return map[string]bool{}, map[string]string{}, nil
	}
	ids := make([]string, len(articles))
	keys := make([]string, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
		keys[i] = fingerprint.URLKey(a.URL)
	}
	storedIDs, err := d.lookup.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup existing ids: %w", err)
	}
	storedURLs, err := d.lookup.ExistingURLs(ctx, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup existing urls: %w", err)
	}
	return storedIDs, storedURLs, nil
}

func (r *Result) discard(d Discard) {
	r.Discards = append(r.Discards, d)
	if d.Reason == ReasonNear {
		r.NearCount++
	} else {
		r.ExactCount++
	}
}

// Warm loads recently stored articles into the window, oldest first, so that
// near-duplicate detection survives restarts. It returns the number admitted.
func (d *Deduplicator) Warm(recent []*models.Article) int {
	sorted := make([]*models.Article, len(recent))
	copy(sorted, recent)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FetchedAt.Before(sorted[j].FetchedAt)
	})
	n := 0
	for _, a := range sorted {
		at := a.FetchedAt
		if at.IsZero() {
			at = a.PublishedAt
		}
		if _, _, ok := d.window.Admit(a.ID, NewSignature(a.RawText, d.shingleSize), at); ok {
			n++
		}
	}
	d.window.Evict(d.now())
	d.logger.Info("Warmed dedup window", zap.Int("articles", n), zap.Int("window", d.window.Len()))
	return n
}
