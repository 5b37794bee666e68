package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

const rbaText = "The Reserve Bank of Australia has left the official cash rate unchanged at its monthly meeting, citing persistent services inflation and a resilient labour market."

func fixedClock() time.Time {
	return time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
}

func validPayload() *models.RawPayload {
	return &models.RawPayload{
		Source:    "abc",
		URL:       "https://www.abc.net.au/news/rba-holds",
		Timestamp: "2025-03-04T03:30:00Z",
		Title:     "RBA holds rates",
		RawText:   rbaText,
	}
}

func TestNormalize_valid(t *testing.T) {
	a := NewAdapter(50, WithClock(fixedClock))
	got, err := a.Normalize(validPayload())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !strings.HasPrefix(got.ID, "art:") {
		t.Errorf("ID = %q", got.ID)
	}
	if got.Title != "RBA holds rates" || got.Source != "abc" {
		t.Errorf("got %+v", got)
	}
	if got.RawText != rbaText {
		t.Errorf("RawText = %q", got.RawText)
	}
	if !got.PublishedAt.Equal(time.Date(2025, 3, 4, 3, 30, 0, 0, time.UTC)) {
		t.Errorf("PublishedAt = %v", got.PublishedAt)
	}
	if !got.FetchedAt.Equal(fixedClock()) {
		t.Errorf("FetchedAt = %v", got.FetchedAt)
	}
}

func TestNormalize_sameContentSameID(t *testing.T) {
	a := NewAdapter(50)
	p1 := validPayload()
	p2 := validPayload()
	p2.RawText = "  " + strings.ReplaceAll(rbaText, " ", "   ") + "\n"
	p2.URL = "https://www.abc.net.au/news/rba-holds?utm_source=x"
	a1, err := a.Normalize(p1)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := a.Normalize(p2)
	if err != nil {
		t.Fatal(err)
	}
	if a1.ID != a2.ID {
		t.Errorf("ids differ: %s vs %s", a1.ID, a2.ID)
	}

	p3 := validPayload()
	p3.Source = "smh"
	a3, err := a.Normalize(p3)
	if err != nil {
		t.Fatal(err)
	}
	if a3.ID == a1.ID {
		t.Error("different sources must give different ids")
	}
}

func TestNormalize_malformed(t *testing.T) {
	a := NewAdapter(50)
	tests := []struct {
		name   string
		mutate func(p *models.RawPayload)
		field  string
	}{
		{"missing url", func(p *models.RawPayload) { p.URL = "" }, "url"},
		{"relative url", func(p *models.RawPayload) { p.URL = "/news/rba" }, "url"},
		{"ftp url", func(p *models.RawPayload) { p.URL = "ftp://example.com/a" }, "url"},
		{"missing source", func(p *models.RawPayload) { p.Source = "" }, "source"},
		{"missing timestamp", func(p *models.RawPayload) { p.Timestamp = "" }, "timestamp"},
		{"bad timestamp", func(p *models.RawPayload) { p.Timestamp = "yesterday" }, "timestamp"},
		{"missing text", func(p *models.RawPayload) { p.RawText = "" }, "raw_text"},
		{"too short", func(p *models.RawPayload) { p.RawText = "Too short." }, "raw_text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)
			_, err := a.Normalize(p)
			var mie *models.MalformedInputError
			if !errors.As(err, &mie) {
				t.Fatalf("expected MalformedInputError, got %v", err)
			}
			if mie.Field != tt.field {
				t.Errorf("field = %q, want %q", mie.Field, tt.field)
			}
		})
	}
}

func TestNormalize_minTextLengthBoundary(t *testing.T) {
	a := NewAdapter(10)
	tests := []struct {
		text string
		ok   bool
	}{
		{"Rates held", false},   // exactly the minimum
		{"Rates held.", true},   // one over
		{"Zinsen fällig", true}, // counted in characters, not bytes
		{"Zinsenfäll", false},
	}
	for _, tt := range tests {
		p := validPayload()
		p.RawText = tt.text
		_, err := a.Normalize(p)
		if (err == nil) != tt.ok {
			t.Errorf("Normalize(%q) err = %v, want ok=%v", tt.text, err, tt.ok)
		}
	}
}

func TestNormalize_htmlBody(t *testing.T) {
	a := NewAdapter(50)
	p := validPayload()
	p.Title = ""
	p.ContentType = "text/html"
	p.RawText = "<html><body><article><h1>Rates on hold</h1><p>" + rbaText + "</p></article><footer><p>footer</p></footer></body></html>"
	got, err := a.Normalize(p)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got.Title != "Rates on hold" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.RawText != rbaText {
		t.Errorf("RawText = %q", got.RawText)
	}
}

func TestNormalizeBatch(t *testing.T) {
	a := NewAdapter(50)
	bad := validPayload()
	bad.URL = "not a url"
	articles, rejections := a.NormalizeBatch([]*models.RawPayload{validPayload(), bad, nil})
	if len(articles) != 1 {
		t.Fatalf("articles = %d, want 1", len(articles))
	}
	if len(rejections) != 2 {
		t.Fatalf("rejections = %d, want 2", len(rejections))
	}
	if rejections[0].Index != 1 || rejections[0].Field != "url" {
		t.Errorf("rejection = %+v", rejections[0])
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2025-03-04", "2025-03-04T00:00:00Z", "2025-03-04 00:00:00", "Tue, 04 Mar 2025 00:00:00 +0000", "1741046400"} {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v", in, got)
		}
	}
	if _, err := ParseTimestamp("March"); err == nil {
		t.Error("expected error")
	}
}

func TestCleaners(t *testing.T) {
	r := DefaultCleaners()
	smh := r.For("www.smh.com.au")("Markets fell. Reuters Copyright ©2025 Add articles to your saved list and come back to them any time.")
	if strings.Contains(smh, "Copyright") || strings.Contains(smh, "saved list") {
		t.Errorf("smh cleaner left boilerplate: %q", smh)
	}
	nine := r.For("wwos.nine.com.au")("Nine’s Wide World of Sports The Storm won. ©2025 Nine Entertainment Co")
	if strings.TrimSpace(nine) != "The Storm won." {
		t.Errorf("nine cleaner = %q", nine)
	}
	abc := r.For("abc.net.au")("Topic:Economy The RBA held rates. Topic:Business more")
	if abc != "Economy The RBA held rates." {
		t.Errorf("abc cleaner = %q", abc)
	}
	if got := r.For("example.com")("unchanged"); got != "unchanged" {
		t.Errorf("identity cleaner = %q", got)
	}
	if got := r.For("notabc.net.au")("Topic:X y"); got != "Topic:X y" {
		t.Errorf("suffix must match on label boundary, got %q", got)
	}
}

func TestReadPayloads(t *testing.T) {
	arr := `[{"source":"abc","url":"https://abc.net.au/a","timestamp":"2025-03-04","raw_text":"x"}]`
	got, err := ReadPayloads(strings.NewReader("  \n" + arr))
	if err != nil {
		t.Fatalf("array: %v", err)
	}
	if len(got) != 1 || got[0].Source != "abc" {
		t.Errorf("array = %+v", got)
	}

	lines := `{"source":"abc","url":"https://abc.net.au/a","timestamp":"2025-03-04","raw_text":"x"}

{"source":"smh","url":"https://smh.com.au/b","timestamp":"2025-03-04","raw_text":"y"}`
	got, err = ReadPayloads(strings.NewReader(lines))
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(got) != 2 || got[1].Source != "smh" {
		t.Errorf("jsonl = %+v", got)
	}

	if got, err := ReadPayloads(strings.NewReader("")); err != nil || got != nil {
		t.Errorf("empty = %v, %v", got, err)
	}
	if _, err := ReadPayloads(strings.NewReader("{broken")); err == nil {
		t.Error("expected error for broken JSON")
	}
}

func TestSpoolFetcher(t *testing.T) {
	dir := t.TempDir()
	line := `{"source":"abc","url":"https://abc.net.au/a","timestamp":"2025-03-04","raw_text":"x"}`
	if err := os.WriteFile(filepath.Join(dir, "abc-2025-03-04.jsonl"), []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "abc-2025-03-03.jsonl"), []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	f := NewSpoolFetcher(dir)
	f.Now = fixedClock

	got, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("first fetch = %d payloads, want 1", len(got))
	}
	// not committed, so the same file is offered again
	got, err = f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("uncommitted refetch = %d payloads, want 1", len(got))
	}
	f.Commit()
	got, err = f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fetch after commit = %d payloads, want 0", len(got))
	}
}

func TestReadPayloadDir(t *testing.T) {
	dir := t.TempDir()
	line := `{"source":"abc","url":"https://abc.net.au/a","timestamp":"2025-03-04","raw_text":"x"}`
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{
		"a.jsonl":        line,
		"nested/b.json":  "[" + line + "," + line + "]",
		"nested/skip.md": "not payloads",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, files, err := ReadPayloadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if files != 2 || len(got) != 3 {
		t.Errorf("files = %d, payloads = %d", files, len(got))
	}
	if _, _, err := ReadPayloadDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
