// Package cli provides CLI output helpers for kiji.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/pipeline"
	"github.com/hyperjump/kiji/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const rule = "─────────────────────────────────────────────────────────\n"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes a query result to w in the given format.
func WriteAnswer(w io.Writer, result *models.QueryResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	scope := "all categories"
	if result.Scope != "" {
		scope = string(result.Scope)
	}
	cached := ""
	if result.Cached {
		cached = ", cached"
	}
	fmt.Fprintf(w, "\n%d articles matched in %dms (%s%s)\n\n", len(result.MatchedArticles), result.QueryTime, scope, cached)
	fmt.Fprintf(w, "%s\n\n", strings.TrimSpace(result.GeneratedAnswer))
	if len(result.Citations) > 0 {
		fmt.Fprintln(w, "Sources:")
		for _, c := range result.Citations {
			title := c.Title
			if title == "" {
				title = c.URL
			}
			fmt.Fprintf(w, "  [%d] %s (%s, %s) score %.3f\n      %s\n",
				c.Index, title, c.Source, c.PublishedAt.Format("2006-01-02"), c.Score, c.URL)
		}
	}
	return nil
}

// DescribeQueryError returns the message shown to a user for a failed query.
func DescribeQueryError(err error) string {
	switch {
	case models.IsNoRelevantResults(err):
		return "No stored article is relevant enough to answer this question."
	case models.IsVersionMismatch(err):
		return "Search is degraded while articles are re-embedded for the current model. Run `kiji reprocess` or try again later."
	case models.IsTransient(err):
		return "The answer service is temporarily unavailable. Try again shortly."
	default:
		return err.Error()
	}
}

// WriteArticles writes an article listing.
func WriteArticles(w io.Writer, articles []*models.EnrichedArticle, format OutputFormat) error {
	if format == OutputJSON {
		if articles == nil {
			articles = []*models.EnrichedArticle{}
		}
		return writeJSON(w, articles)
	}
	if len(articles) == 0 {
		fmt.Fprintln(w, "No articles.")
		return nil
	}
	for _, a := range articles {
		writeArticle(w, a)
	}
	return nil
}

func writeArticle(w io.Writer, a *models.EnrichedArticle) {
	fmt.Fprint(w, rule)
	flags := ""
	if a.Featured {
		flags += " ★"
	}
	if a.PendingEnrichment {
		flags += " (pending)"
	}
	fmt.Fprintf(w, "[%s] %s%s\n", a.Category, a.PublishedAt.Format("2006-01-02 15:04"), flags)
	if a.Title != "" {
		fmt.Fprintf(w, "Title: %s\n", a.Title)
	}
	fmt.Fprintf(w, "Source: %s  %s\n", a.Source, a.URL)
	fmt.Fprintf(w, "ID: %s\n", a.ID)
	text := a.Summary
	if text == "" {
		text = utils.Truncate(a.RawText, 200)
	}
	fmt.Fprintf(w, "\n%s\n\n", TruncateWords(text, 80))
}

// WriteHighlights writes the featured articles of a category.
func WriteHighlights(w io.Writer, c models.Category, articles []*models.EnrichedArticle, format OutputFormat) error {
	if format == OutputJSON {
		if articles == nil {
			articles = []*models.EnrichedArticle{}
		}
		return writeJSON(w, map[string]interface{}{"category": c, "articles": articles})
	}
	fmt.Fprintf(w, "\nHighlights: %s (%d)\n", c, len(articles))
	for i, a := range articles {
		fmt.Fprintf(w, "  %d. %s (%s, %s)\n", i+1, displayTitle(a), a.Source, a.PublishedAt.Format("2006-01-02"))
	}
	return nil
}

// Topic is one topic cluster with its member articles, newest first.
type Topic struct {
	ID       string                    `json:"id"`
	Articles []*models.EnrichedArticle `json:"articles"`
}

// WriteTopics writes the topic clusters of one category.
func WriteTopics(w io.Writer, c models.Category, topics []Topic, format OutputFormat) error {
	if format == OutputJSON {
		if topics == nil {
			topics = []Topic{}
		}
		return writeJSON(w, map[string]interface{}{"category": c, "topics": topics})
	}
	fmt.Fprintf(w, "\nTopics: %s (%d)\n", c, len(topics))
	for _, t := range topics {
		fmt.Fprintf(w, "  %s (%d articles)\n", t.ID, len(t.Articles))
		for _, a := range t.Articles {
			fmt.Fprintf(w, "    - %s (%s, %s)\n", displayTitle(a), a.Source, a.PublishedAt.Format("2006-01-02"))
		}
	}
	return nil
}

func displayTitle(a *models.EnrichedArticle) string {
	if a.Title != "" {
		return a.Title
	}
	return TruncateWords(a.RawText, 10)
}

// WriteBatchReport writes the outcome of one batch run.
func WriteBatchReport(w io.Writer, r *pipeline.BatchReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Run %s finished in %s\n", r.RunID, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  received:        %d\n", r.Received)
	fmt.Fprintf(w, "  rejected:        %d\n", r.Rejected)
	fmt.Fprintf(w, "  duplicates:      %d exact, %d near\n", r.Duplicates, r.NearDuplicates)
	fmt.Fprintf(w, "  stored:          %d (%d fully enriched, %d pending)\n", r.Stored, r.FullyEnriched, r.Pending)
	fmt.Fprintf(w, "  uncategorized:   %d (%d classification failures)\n", r.Uncategorized, r.ClassificationFailures)
	if len(r.ByCategory) > 0 {
		cats := make([]string, 0, len(r.ByCategory))
		for c := range r.ByCategory {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		parts := make([]string, len(cats))
		for i, c := range cats {
			parts[i] = fmt.Sprintf("%s=%d", c, r.ByCategory[models.Category(c)])
		}
		fmt.Fprintf(w, "  by category:     %s\n", strings.Join(parts, " "))
	}
	for _, rej := range r.Rejections {
		fmt.Fprintf(w, "  rejected #%d %s: %s\n", rej.Index, rej.URL, rej.Error)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed %s at %s: %s\n", f.ArticleID, f.Stage, f.Error)
	}
	return nil
}

// WriteReprocessReport writes the outcome of a reprocess run.
func WriteReprocessReport(w io.Writer, r *pipeline.ReprocessReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintf(w, "Reprocess %s: %d attempted, %d completed, %d still pending, %d recategorized\n",
		r.RunID, r.Attempted, r.Completed, r.StillPending, r.Recategorized)
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed %s at %s: %s\n", f.ArticleID, f.Stage, f.Error)
	}
	return nil
}

// Status is the payload of `kiji status`.
type Status struct {
	Store          *models.StoreStats     `json:"store"`
	DiskUsageBytes int64                  `json:"disk_usage_bytes"`
	Config         map[string]interface{} `json:"config,omitempty"`
}

// WriteStatus writes store statistics.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	st := s.Store
	fmt.Fprintf(w, "Articles:         %d\n", st.Articles)
	for _, c := range append(append([]models.Category(nil), models.Categories...), models.CategoryUncategorized) {
		if n := st.ByCategory[c]; n > 0 {
			fmt.Fprintf(w, "  %-15s %d\n", c, n)
		}
	}
	fmt.Fprintf(w, "Searchable:       %d\n", st.Searchable)
	fmt.Fprintf(w, "Pending:          %d\n", st.Pending)
	fmt.Fprintf(w, "Stale version:    %d\n", st.Stale)
	fmt.Fprintf(w, "Active version:   %s\n", st.ActiveVersion)
	fmt.Fprintf(w, "Vector index:     %d\n", st.IndexSize)
	fmt.Fprintf(w, "Disk usage:       %s\n", FormatBytes(s.DiskUsageBytes))
	return nil
}

// PrintAnswer prints a query result to stdout in text format.
func PrintAnswer(result *models.QueryResult) {
	_ = WriteAnswer(os.Stdout, result, OutputText)
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
