// Package source normalizes raw fetched payloads into canonical articles.
package source

import (
	"errors"
	"net/url"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/hyperjump/kiji/internal/extract"
	"github.com/hyperjump/kiji/internal/fingerprint"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/pkg/utils"
)

// DefaultMinTextLength is the length in characters that article text must exceed after cleaning.
const DefaultMinTextLength = 200

// timestampLayouts are the formats accepted for payload timestamps, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Adapter converts RawPayloads into Articles. It has no side effects and is safe for concurrent use.
type Adapter struct {
	minTextLength int
	extractor     *extract.Extractor
	cleaners      *CleanerRegistry
	validate      *validator.Validate
	now           func() time.Time
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithCleaners replaces the default per-outlet cleaners.
func WithCleaners(r *CleanerRegistry) AdapterOption {
	return func(a *Adapter) { a.cleaners = r }
}

// WithClock sets the clock used for fetched_at.
func WithClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) { a.now = now }
}

// NewAdapter returns an Adapter that rejects articles of minTextLength characters or fewer.
func NewAdapter(minTextLength int, opts ...AdapterOption) *Adapter {
	if minTextLength <= 0 {
		minTextLength = DefaultMinTextLength
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	a := &Adapter{
		minTextLength: minTextLength,
		extractor:     extract.NewExtractor(),
		cleaners:      DefaultCleaners(),
		validate:      v,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Normalize validates p and returns the canonical Article, or a *models.MalformedInputError
// naming the offending field.
func (a *Adapter) Normalize(p *models.RawPayload) (*models.Article, error) {
	if p == nil {
		return nil, models.NewMalformedInput("payload", "missing")
	}
	if err := a.validate.Struct(p); err != nil {
		return nil, fromValidation(err)
	}

	u, err := url.Parse(strings.TrimSpace(p.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, models.NewMalformedInput("url", "not an absolute http(s) URL: %q", p.URL)
	}

	published, err := ParseTimestamp(p.Timestamp)
	if err != nil {
		return nil, models.NewMalformedInput("timestamp", "%v", err)
	}

	title, text, err := a.body(p)
	if err != nil {
		return nil, models.NewMalformedInput("raw_text", "%v", err)
	}
	text = utils.CollapseWhitespace(a.cleaners.For(u.Hostname())(text))
	if n := utf8.RuneCountInString(text); n <= a.minTextLength {
		return nil, models.NewMalformedInput("raw_text", "%d characters after cleaning, must exceed %d", n, a.minTextLength)
	}

	if t := utils.CollapseWhitespace(p.Title); t != "" {
		title = t
	}
	source := strings.TrimSpace(p.Source)
	return &models.Article{
		ID:          fingerprint.ArticleID(source, text),
		Source:      source,
		URL:         u.String(),
		Title:       title,
		PublishedAt: published.UTC(),
		RawText:     text,
		FetchedAt:   a.now().UTC(),
	}, nil
}

// body decodes the payload content into a title (possibly empty) and text.
func (a *Adapter) body(p *models.RawPayload) (string, string, error) {
	content := p.Body
	if len(content) == 0 {
		content = []byte(p.RawText)
	}
	doc, err := a.extractor.Extract(content, p.ContentType)
	if err != nil {
		return "", "", err
	}
	return utils.CollapseWhitespace(doc.Title), doc.Text, nil
}

// Rejection records a payload that failed normalization.
type Rejection struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	Field string `json:"field"`
	Error string `json:"error"`
}

// NormalizeBatch normalizes every payload and returns the articles and the rejections.
// A bad payload never stops the rest of the batch.
func (a *Adapter) NormalizeBatch(payloads []*models.RawPayload) ([]*models.Article, []Rejection) {
	articles := make([]*models.Article, 0, len(payloads))
	var rejections []Rejection
	for i, p := range payloads {
		article, err := a.Normalize(p)
		if err != nil {
			r := Rejection{Index: i, Error: err.Error()}
			if p != nil {
				r.URL = p.URL
			}
			var mie *models.MalformedInputError
			if errors.As(err, &mie) {
				r.Field = mie.Field
			}
			rejections = append(rejections, r)
			continue
		}
		articles = append(articles, article)
	}
	return articles, rejections
}

// ParseTimestamp parses s using the accepted layouts. Unix seconds are accepted as well.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if t, ok := parseUnix(s); ok {
		return t, nil
	}
	return time.Time{}, errors.New("unrecognized date format: " + s)
}

func parseUnix(s string) (time.Time, bool) {
	if len(s) < 9 || len(s) > 10 {
		return time.Time{}, false
	}
	var secs int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
		secs = secs*10 + int64(r-'0')
	}
	return time.Unix(secs, 0).UTC(), true
}

// fromValidation maps the first validator failure to a MalformedInputError.
func fromValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		switch fe.Tag() {
		case "required", "required_without":
			return models.NewMalformedInput(field, "is required")
		case "url":
			return models.NewMalformedInput(field, "not a well-formed URL: %q", fe.Value())
		default:
			return models.NewMalformedInput(field, "failed %s validation", fe.Tag())
		}
	}
	return models.NewMalformedInput("payload", "%v", err)
}
