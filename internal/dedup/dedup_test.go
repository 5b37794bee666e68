package dedup

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kiji/internal/models"
	"go.uber.org/zap"
)

var base = time.Date(2025, 3, 4, 6, 0, 0, 0, time.UTC)

const storyText = "Matildas striker Sam Kerr scored twice as Australia beat Canada four goals to one in a friendly " +
	"at Marvel Stadium on Tuesday night in front of a sellout crowd of fifty thousand fans who stayed long after " +
	"the final whistle to celebrate with the squad before the upcoming Olympic qualifying campaign in Asia"

func article(id, url, text string, published time.Time) *models.Article {
	return &models.Article{ID: id, Source: "abc", URL: url, RawText: text, PublishedAt: published, FetchedAt: base}
}

type fakeLookup struct {
	ids  map[string]bool
	urls map[string]string
}

func (f *fakeLookup) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		if f.ids[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeLookup) ExistingURLs(_ context.Context, keys []string) (map[string]string, error) {
	out := map[string]string{}
	for _, k := range keys {
		if id, ok := f.urls[k]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func TestSignatureSimilarity(t *testing.T) {
	a := NewSignature("the quick brown fox", 1)
	if got := a.Similarity(NewSignature("The QUICK, brown fox!", 1)); got != 1 {
		t.Errorf("identical token sets = %v, want 1", got)
	}
	if got := a.Similarity(NewSignature("lazy dogs sleep", 1)); got != 0 {
		t.Errorf("disjoint = %v, want 0", got)
	}
	// {the quick brown fox} vs {the quick red fox}: 3 shared of 5
	if got := a.Similarity(NewSignature("the quick red fox", 1)); got != 0.6 {
		t.Errorf("partial = %v, want 0.6", got)
	}
	if got := NewSignature("", 1).Similarity(NewSignature("", 1)); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
	if !NewSignature("  ", 2).Empty() {
		t.Error("whitespace signature should be empty")
	}
	if n := len(NewSignature("one two three", 2)); n != 2 {
		t.Errorf("bigram count = %d, want 2", n)
	}
}

func TestWindow_admitAndReject(t *testing.T) {
	w := NewWindow(10, time.Hour, 0.85)
	sig := NewSignature(storyText, 1)
	if _, _, ok := w.Admit("a", sig, base); !ok {
		t.Fatal("first admit rejected")
	}
	dupOf, score, ok := w.Admit("b", sig, base)
	if ok || dupOf != "a" || score != 1 {
		t.Errorf("Admit duplicate = %q, %v, %v", dupOf, score, ok)
	}
	if _, _, ok := w.Admit("a", sig, base); !ok {
		t.Error("re-admitting the same id should succeed")
	}
	if w.Len() != 1 {
		t.Errorf("Len = %d, want 1", w.Len())
	}
}

func TestWindow_eviction(t *testing.T) {
	w := NewWindow(10, time.Hour, 0.85)
	sig := NewSignature(storyText, 1)
	w.Admit("a", sig, base)
	if n := w.Evict(base.Add(30 * time.Minute)); n != 0 {
		t.Errorf("early evict dropped %d", n)
	}
	if n := w.Evict(base.Add(2 * time.Hour)); n != 1 {
		t.Errorf("evict dropped %d, want 1", n)
	}
	if _, _, ok := w.Admit("b", sig, base.Add(2*time.Hour)); !ok {
		t.Error("signature should be admitted after the original expired")
	}
}

func TestWindow_capacityBound(t *testing.T) {
	w := NewWindow(3, 0, 0.85)
	for i, text := range []string{"alpha beta", "gamma delta", "epsilon zeta", "eta theta"} {
		w.Admit(string(rune('a'+i)), NewSignature(text, 1), base)
	}
	if w.Len() != 3 {
		t.Fatalf("Len = %d, want 3", w.Len())
	}
	// the oldest entry was overwritten, so its text is admissible again
	if _, _, ok := w.Admit("z", NewSignature("alpha beta", 1), base); !ok {
		t.Error("overwritten entry still matched")
	}
}

func TestWindow_remove(t *testing.T) {
	w := NewWindow(3, time.Hour, 0.85)
	for i, text := range []string{"alpha beta", "gamma delta", "epsilon zeta", "eta theta"} {
		w.Admit(string(rune('a'+i)), NewSignature(text, 1), base.Add(time.Duration(i)*time.Minute))
	}
	// a was overwritten; b, c, d remain
	if n := w.Remove("c", "missing"); n != 1 {
		t.Fatalf("Remove = %d, want 1", n)
	}
	if w.Len() != 2 {
		t.Fatalf("Len = %d, want 2", w.Len())
	}
	if _, _, ok := w.Admit("c2", NewSignature("epsilon zeta", 1), base.Add(5*time.Minute)); !ok {
		t.Error("removed signature still matched")
	}
	if dupOf, _, ok := w.Admit("b2", NewSignature("gamma delta", 1), base.Add(5*time.Minute)); ok || dupOf != "b" {
		t.Errorf("kept signature = %q, %v", dupOf, ok)
	}
	// full again: the next admission overwrites the oldest live entry, b
	w.Admit("e", NewSignature("iota kappa", 1), base.Add(6*time.Minute))
	if _, _, ok := w.Admit("b3", NewSignature("gamma delta", 1), base.Add(7*time.Minute)); !ok {
		t.Error("oldest entry was not the one overwritten")
	}
	if n := w.Remove(); n != 0 {
		t.Errorf("Remove() = %d", n)
	}
}

func TestWindow_concurrentAdmitKeepsOne(t *testing.T) {
	w := NewWindow(100, time.Hour, 0.85)
	sig := NewSignature(storyText, 1)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, ok := w.Admit(string(rune('A'+i)), sig, base); ok {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if admitted != 1 {
		t.Errorf("admitted = %d, want 1", admitted)
	}
}

func TestFilter_nearDuplicatesKeepEarliest(t *testing.T) {
	d := New(nil, NewWindow(100, 48*time.Hour, 0.85), WithLogger(zap.NewNop()), WithClock(func() time.Time { return base }))
	paraphrase := strings.Replace(storyText, "Tuesday", "Tuesday evening", 1)
	later := article("art:2", "https://smh.com.au/kerr", paraphrase, base.Add(time.Hour))
	earlier := article("art:1", "https://abc.net.au/kerr", storyText, base)
	other := article("art:3", "https://abc.net.au/rba", "The Reserve Bank left the cash rate on hold at its March meeting", base)

	res, err := d.Filter(context.Background(), []*models.Article{later, earlier, other})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(res.Unique) != 2 || res.NearCount != 1 {
		t.Fatalf("unique = %d, near = %d", len(res.Unique), res.NearCount)
	}
	for _, a := range res.Unique {
		if a.ID == "art:2" {
			t.Error("later near-duplicate was kept")
		}
	}
	if res.Discards[0].DuplicateOf != "art:1" || res.Discards[0].Reason != ReasonNear {
		t.Errorf("discard = %+v", res.Discards[0])
	}
}

func TestFilter_sameTimeKeepsLonger(t *testing.T) {
	d := New(nil, NewWindow(100, 48*time.Hour, 0.85), WithClock(func() time.Time { return base }))
	short := article("art:a", "https://a.example/1", storyText, base)
	long := article("art:b", "https://b.example/1", storyText+" tonight", base)
	res, err := d.Filter(context.Background(), []*models.Article{short, long})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unique) != 1 || res.Unique[0].ID != "art:b" {
		t.Errorf("kept %+v, want the longer article", res.Unique)
	}
}

func TestFilter_exactAndURL(t *testing.T) {
	lookup := &fakeLookup{
		ids:  map[string]bool{"art:stored": true},
		urls: map[string]string{"https://abc.net.au/news/old": "art:old"},
	}
	d := New(lookup, nil, WithClock(func() time.Time { return base }))
	batch := []*models.Article{
		article("art:stored", "https://abc.net.au/news/x", "stored text one", base),
		article("art:new", "https://www.abc.net.au/news/old/?utm_source=rss", "different words entirely here", base),
		article("art:fresh", "https://abc.net.au/news/fresh", "fresh story about cricket", base),
		article("art:fresh", "https://abc.net.au/news/fresh", "fresh story about cricket", base),
	}
	res, err := d.Filter(context.Background(), batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unique) != 1 || res.Unique[0].ID != "art:fresh" {
		t.Fatalf("unique = %+v", res.Unique)
	}
	if res.ExactCount != 3 || res.NearCount != 0 {
		t.Errorf("exact = %d, near = %d", res.ExactCount, res.NearCount)
	}
	reasons := map[string]int{}
	for _, ds := range res.Discards {
		reasons[ds.Reason]++
		if ds.Reason == ReasonURL && ds.DuplicateOf != "art:old" {
			t.Errorf("url discard duplicate_of = %q", ds.DuplicateOf)
		}
	}
	if reasons[ReasonExact] != 2 || reasons[ReasonURL] != 1 {
		t.Errorf("reasons = %v", reasons)
	}
}

func TestFilter_acrossBatchesUsesWindow(t *testing.T) {
	d := New(nil, NewWindow(100, 48*time.Hour, 0.85), WithClock(func() time.Time { return base }))
	if _, err := d.Filter(context.Background(), []*models.Article{article("art:1", "https://a.example/1", storyText, base)}); err != nil {
		t.Fatal(err)
	}
	res, err := d.Filter(context.Background(), []*models.Article{article("art:2", "https://b.example/2", storyText+" again", base)})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unique) != 0 || res.NearCount != 1 {
		t.Errorf("unique = %d, near = %d", len(res.Unique), res.NearCount)
	}
}

func TestFilter_releasedArticleDoesNotBlockCopies(t *testing.T) {
	d := New(nil, NewWindow(100, 48*time.Hour, 0.85), WithClock(func() time.Time { return base }))
	first, err := d.Filter(context.Background(), []*models.Article{article("art:1", "https://abc.net.au/kerr", storyText, base)})
	if err != nil || len(first.Unique) != 1 {
		t.Fatalf("first = %+v, %v", first, err)
	}
	// art:1 was never stored
	d.Release("art:1")

	paraphrase := strings.Replace(storyText, "Tuesday", "Tuesday evening", 1)
	res, err := d.Filter(context.Background(), []*models.Article{article("art:2", "https://smh.com.au/kerr", paraphrase, base.Add(time.Hour))})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unique) != 1 || res.NearCount != 0 {
		t.Errorf("copy after release: unique = %d, near = %d", len(res.Unique), res.NearCount)
	}
}

func TestWarm(t *testing.T) {
	d := New(nil, NewWindow(100, 48*time.Hour, 0.85), WithClock(func() time.Time { return base }))
	recent := []*models.Article{
		article("art:1", "https://a.example/1", storyText, base.Add(-time.Hour)),
		article("art:old", "https://a.example/2", "an old article about tennis", base.Add(-72*time.Hour)),
	}
	recent[1].FetchedAt = base.Add(-72 * time.Hour)
	recent[0].FetchedAt = base.Add(-time.Hour)
	if n := d.Warm(recent); n != 2 {
		t.Errorf("Warm admitted %d, want 2", n)
	}
	if d.Window().Len() != 1 {
		t.Errorf("window len = %d, want 1 after evicting the expired article", d.Window().Len())
	}
	res, err := d.Filter(context.Background(), []*models.Article{article("art:9", "https://b.example/9", storyText, base)})
	if err != nil {
		t.Fatal(err)
	}
	if res.NearCount != 1 {
		t.Errorf("warm window did not catch duplicate")
	}
}
