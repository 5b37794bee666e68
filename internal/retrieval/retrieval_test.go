package retrieval

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/keyword"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vector"
)

var base = time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

var corpus = []struct {
	id, title, text string
	category        models.Category
}{
	{"art:rba", "RBA holds cash rate", "The Reserve Bank held the cash rate. Governor Bullock warned inflation remained high.", models.CategoryFinance},
	{"art:swans", "Swans win grand final", "The Swans beat Geelong in the grand final at the MCG before a record crowd.", models.CategorySports},
	{"art:album", "Band releases new album", "The band released a new album recorded in Melbourne with a string section.", models.CategoryMusic},
}

type fixture struct {
	store    *storage.SQLiteStore
	embedder *embedding.HashingEmbedder
	keywords *keyword.BleveIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	emb := embedding.NewHashingEmbedder("hash-v1", 1024)
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "kiji.db"), emb.ModelVersion(), emb.Dimensions())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	kw, err := keyword.NewMemBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kw.Close() })

	for i, c := range corpus {
		a := &models.EnrichedArticle{
			Article: models.Article{
				ID:          c.id,
				Source:      "abc",
				URL:         "https://abc.net.au/news/" + strings.TrimPrefix(c.id, "art:"),
				Title:       c.title,
				RawText:     c.text,
				PublishedAt: base.Add(time.Duration(i) * time.Hour),
				FetchedAt:   base.Add(time.Duration(i) * time.Hour),
			},
			Category: c.category,
			Summary:  c.text,
		}
		vec, _ := emb.Embed(ctx, a.EmbeddingInput(0))
		a.Embedding = &vec
		a.EnrichmentVersion = vec.Version
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatal(err)
		}
		if err := kw.Index(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	return &fixture{store: store, embedder: emb, keywords: kw}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SimilarityFloor = 0.2
	cfg.Retry = llm.RetryPolicy{MaxAttempts: 1}
	return cfg
}

func TestInferScope(t *testing.T) {
	tests := []struct {
		q    string
		want models.Category
		ok   bool
	}{
		{"What did the RBA do with interest rates?", models.CategoryFinance, true},
		{"Who won the football grand final?", models.CategorySports, true},
		{"Any new albums from Australian bands?", models.CategoryMusic, true},
		{"Best recipes for a healthy diet", models.CategoryLifestyle, true},
		{"What happened yesterday?", "", false},
		{"Did the band play at the football?", "", false},
	}
	for _, tt := range tests {
		got, ok := InferScope(tt.q)
		if got != tt.want || ok != tt.ok {
			t.Errorf("InferScope(%q) = %q, %v; want %q, %v", tt.q, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCitations(t *testing.T) {
	hits := []*models.ScoredArticle{
		{Article: &models.EnrichedArticle{Article: models.Article{ID: "a", Source: "abc"}}, Score: 0.9},
		{Article: &models.EnrichedArticle{Article: models.Article{ID: "b", Source: "smh"}}, Score: 0.5},
	}
	got := Citations("Rates held [2]. Inflation high [2][1]. Ignore [7].", hits)
	if len(got) != 2 || got[0].ArticleID != "b" || got[0].Index != 2 || got[1].ArticleID != "a" {
		t.Errorf("citations = %+v", got)
	}
	if got := Citations("No markers here.", hits); len(got) != 2 || got[0].Index != 1 {
		t.Errorf("uncited answer citations = %+v", got)
	}
}

func TestFuse(t *testing.T) {
	hits := []*models.ScoredArticle{
		{Article: &models.EnrichedArticle{Article: models.Article{ID: "a"}}, SemanticScore: 0.6, Score: 0.6, Rank: 1},
		{Article: &models.EnrichedArticle{Article: models.Article{ID: "b"}}, SemanticScore: 0.5, Score: 0.5, Rank: 2},
	}
	fused := Fuse(hits, map[string]float64{"b": 1}, 0.5)
	if fused[0].Article.ID != "b" || fused[0].Rank != 1 || fused[0].KeywordScore != 1 {
		t.Errorf("fused = %+v %+v", fused[0], fused[1])
	}
	if hits[0].Rank != 1 {
		t.Error("Fuse modified its input")
	}

	kept, best := AboveFloor(hits, 0.55)
	if len(kept) != 1 || best != 0.6 {
		t.Errorf("AboveFloor = %d, %v", len(kept), best)
	}
}

func TestEngine_Answer(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store, f.embedder, llm.NewExtractiveCompleter(0), testConfig(),
		WithKeywordIndex(f.keywords), WithLogger(zap.NewNop()))

	res, err := engine.Answer(context.Background(), &models.Query{Text: "Did the RBA hold the cash rate?"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Scope != models.CategoryFinance {
		t.Errorf("scope = %q", res.Scope)
	}
	if len(res.MatchedArticles) != 1 || res.MatchedArticles[0].Article.ID != "art:rba" {
		t.Fatalf("matched = %+v", res.MatchedArticles)
	}
	if res.MatchedArticles[0].KeywordScore == 0 {
		t.Error("keyword evidence not fused")
	}
	if !strings.Contains(res.GeneratedAnswer, "[1]") {
		t.Errorf("answer = %q", res.GeneratedAnswer)
	}
	if len(res.Citations) != 1 || res.Citations[0].ArticleID != "art:rba" || res.Citations[0].URL == "" {
		t.Errorf("citations = %+v", res.Citations)
	}
	if res.ModelVersion != "hash-v1" {
		t.Errorf("model version = %q", res.ModelVersion)
	}
}

func TestEngine_noRelevantResults(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store, f.embedder, llm.NewExtractiveCompleter(0), testConfig())

	_, err := engine.Answer(context.Background(), &models.Query{Text: "quantum entanglement photons"})
	var none *models.NoRelevantResultsError
	if !errors.As(err, &none) {
		t.Fatalf("err = %v", err)
	}
	if none.Floor != 0.2 || none.Query != "quantum entanglement photons" {
		t.Errorf("error = %+v", none)
	}
	if _, err := engine.Answer(context.Background(), &models.Query{Text: "   "}); err == nil {
		t.Error("blank query should fail")
	}
}

func TestEngine_scopeFallsBackWhenEmpty(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store, f.embedder, llm.NewExtractiveCompleter(0), testConfig())

	// "music" scopes the question, but only the finance article mentions Bullock.
	res, err := engine.Answer(context.Background(), &models.Query{Text: "music governor Bullock"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Scope != "" || res.MatchedArticles[0].Article.ID != "art:rba" {
		t.Errorf("scope=%q top=%s", res.Scope, res.MatchedArticles[0].Article.ID)
	}

	// An explicit category is never widened.
	_, err = engine.Search(context.Background(), &models.Query{Text: "governor Bullock", Category: models.CategoryMusic})
	if !models.IsNoRelevantResults(err) {
		t.Errorf("explicit scope err = %v", err)
	}
}

func TestEngine_versionMismatch(t *testing.T) {
	f := newFixture(t)
	other := embedding.NewHashingEmbedder("hash-v2", 1024)
	engine := NewEngine(f.store, other, llm.NewExtractiveCompleter(0), testConfig())
	_, err := engine.Search(context.Background(), &models.Query{Text: "cash rate"})
	var mismatch *models.ModelVersionMismatchError
	if !errors.As(err, &mismatch) || mismatch.Active != "hash-v1" || mismatch.Got != "hash-v2" {
		t.Errorf("err = %v", err)
	}
	if !IsDegraded(err) {
		t.Error("version mismatch should be degraded")
	}
}

type failingCompleter struct{ err error }

func (f failingCompleter) Complete(context.Context, llm.Request) (string, error) { return "", f.err }
func (f failingCompleter) Name() string                                        { return "failing" }

func TestEngine_completionFailure(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store, f.embedder, failingCompleter{err: errors.New("503 overloaded")}, testConfig())
	_, err := engine.Answer(context.Background(), &models.Query{Text: "Did the RBA hold the cash rate?"})
	if !models.IsTransient(err) || !IsDegraded(err) {
		t.Errorf("err = %v", err)
	}
}

func TestHighlighter_Refresh(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "kiji.db"), "v1", 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	put := func(id, title string, vec []float32, published time.Time) {
		t.Helper()
		err := store.Upsert(ctx, &models.EnrichedArticle{
			Article: models.Article{
				ID: id, Source: "abc", URL: "https://abc.net.au/" + id, Title: title,
				RawText: "Body.", PublishedAt: published, FetchedAt: published,
			},
			Category:  models.CategoryFinance,
			Embedding: &models.Embedding{Version: "v1", Vector: vec},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	put("a", "Rates held", []float32{1, 0, 0}, base)
	put("b", "Rates held again", []float32{1, 0.01, 0}, base.Add(time.Hour))
	put("c", "EXCLUSIVE: bank chief resigns", []float32{0, 1, 0}, base)
	put("d", "Quiet day", []float32{0, 0, 1}, base)

	h := NewHighlighter(store, zap.NewNop())
	h.Count = 2
	h.Now = func() time.Time { return base.Add(2 * time.Hour) }

	ids, err := h.Refresh(ctx, models.CategoryFinance)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "c" || ids[1] != "b" {
		t.Fatalf("featured = %v", ids)
	}
	featured, _ := store.Featured(ctx, models.CategoryFinance)
	if len(featured) != 2 || featured[0].ID != "c" || featured[0].FeaturedAt == nil {
		t.Errorf("stored featured = %+v", featured)
	}

	all, err := h.RefreshAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all[models.CategorySports]) != 0 || len(all[models.CategoryFinance]) != 2 {
		t.Errorf("RefreshAll = %v", all)
	}
}

func TestCluster(t *testing.T) {
	entry := func(id string, hour int, vec ...float32) vector.Entry {
		return vector.Entry{ID: id, Vector: vec, Attrs: vector.Attributes{PublishedAt: base.Add(time.Duration(hour) * time.Hour)}}
	}
	entries := []vector.Entry{
		entry("rba-1", 0, 1, 0, 0),
		entry("rba-2", 2, 0.95, 0.31, 0),
		// Linked to rba-1 only through rba-2.
		entry("rba-3", 1, 0.8, 0.6, 0),
		entry("asx-1", 3, 0, 0, 1),
		entry("asx-2", 4, 0, 0.1, 1),
		entry("lone", 5, 0, 1, -1),
	}
	tests := []struct {
		name      string
		threshold float64
		minSize   int
		want      [][]string
	}{
		{"chained stories form one topic", 0.9, 2, [][]string{{"rba-2", "rba-3", "rba-1"}, {"asx-2", "asx-1"}}},
		{"min size drops small groups", 0.9, 3, [][]string{{"rba-2", "rba-3", "rba-1"}}},
		{"strict threshold splits the chain", 0.99, 2, [][]string{{"asx-2", "asx-1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cluster(entries, tt.threshold, tt.minSize); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Cluster() = %v, want %v", got, tt.want)
			}
		})
	}
	if got := Cluster(nil, 0.8, 2); len(got) != 0 {
		t.Errorf("Cluster(nil) = %v", got)
	}
}

func TestTopicGrouper_Group(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "kiji.db"), "v1", 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	put := func(id string, c models.Category, vec []float32, published time.Time) {
		t.Helper()
		err := store.Upsert(ctx, &models.EnrichedArticle{
			Article: models.Article{
				ID: id, Source: "abc", URL: "https://abc.net.au/" + id, Title: id,
				RawText: "Body.", PublishedAt: published, FetchedAt: published,
			},
			Category:  c,
			Embedding: &models.Embedding{Version: "v1", Vector: vec},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	put("rba", models.CategoryFinance, []float32{1, 0, 0}, base)
	put("rba-syndicated", models.CategoryFinance, []float32{1, 0.05, 0}, base.Add(time.Hour))
	put("asx", models.CategoryFinance, []float32{0, 1, 0}, base)
	put("old-rba", models.CategoryFinance, []float32{1, 0, 0}, base.Add(-30*24*time.Hour))
	put("swans", models.CategorySports, []float32{1, 0, 0}, base)

	g := NewTopicGrouper(store, zap.NewNop())
	g.Now = func() time.Time { return base.Add(2 * time.Hour) }

	topics, err := g.Group(ctx, models.CategoryFinance)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{"finance-1": {"rba-syndicated", "rba"}}
	if !reflect.DeepEqual(topics, want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	stored, _ := store.TopicClusters(ctx, models.CategoryFinance)
	if !reflect.DeepEqual(stored, want) {
		t.Errorf("stored topics = %v", stored)
	}
	for id, cluster := range map[string]string{"rba": "finance-1", "asx": "", "old-rba": "", "swans": ""} {
		a, _ := store.Get(ctx, id)
		if a.TopicClusterID != cluster {
			t.Errorf("%s topic = %q, want %q", id, a.TopicClusterID, cluster)
		}
	}

	// A later regroup drops topics whose members moved apart.
	put("rba-syndicated", models.CategoryFinance, []float32{0, 0, 1}, base.Add(time.Hour))
	counts, err := g.GroupAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.CategoryFinance] != 0 || counts[models.CategorySports] != 0 {
		t.Errorf("GroupAll = %v", counts)
	}
	if a, _ := store.Get(ctx, "rba"); a.TopicClusterID != "" {
		t.Errorf("stale topic kept: %q", a.TopicClusterID)
	}
}

func TestHasHighlightKeyword(t *testing.T) {
	if !HasHighlightKeyword("JUST IN: markets fall") || HasHighlightKeyword("markets fall") {
		t.Error("keyword detection wrong")
	}
}

func TestAnswerCache_Key(t *testing.T) {
	c := NewAnswerCache(nil, 0, nil)
	q1 := &models.Query{Text: "Cash  rate?", TopK: 5}
	q2 := &models.Query{Text: "cash rate?", TopK: 5}
	if c.Key(q1, "v1") != c.Key(q2, "v1") {
		t.Error("case and spacing should not change the key")
	}
	if c.Key(q1, "v1") == c.Key(q1, "v2") {
		t.Error("model version must change the key")
	}
	if !strings.HasPrefix(c.Key(q1, "v1"), DefaultCachePrefix) {
		t.Error("missing prefix")
	}
	if got, err := c.Get(context.Background(), q1, "v1"); got != nil || err != nil {
		t.Errorf("nil client Get = %v, %v", got, err)
	}
}

func TestAnswerCache_redis(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("redis not available")
	}
	defer client.Close()

	c := NewAnswerCache(client, time.Minute, zap.NewNop())
	q := &models.Query{Text: "cash rate", TopK: 5}
	_, _ = c.Clear(ctx)
	want := &models.QueryResult{QueryText: "cash rate", GeneratedAnswer: "Held [1]."}
	if err := c.Set(ctx, q, "v1", want); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, q, "v1")
	if err != nil || got == nil || got.GeneratedAnswer != want.GeneratedAnswer {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if n, err := c.Clear(ctx); err != nil || n < 1 {
		t.Errorf("Clear = %d, %v", n, err)
	}
}
