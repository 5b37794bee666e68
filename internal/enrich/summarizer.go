// Package enrich adds a summary and an embedding to categorized articles.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/pkg/utils"
)

// Summary length bounds in sentences.
const (
	MinSummarySentences     = 2
	MaxSummarySentences     = 4
	DefaultSummarySentences = 3
	// maxSummaryRunes caps summaries from any source.
	maxSummaryRunes = 1200
)

// Summarizer produces a short summary of an article.
type Summarizer interface {
	Summarize(ctx context.Context, a *models.Article) (string, error)
}

// ClampSentences bounds n to the supported summary range.
func ClampSentences(n int) int {
	switch {
	case n < MinSummarySentences:
		return MinSummarySentences
	case n > MaxSummarySentences:
		return MaxSummarySentences
	}
	return n
}

// ExtractiveSummarizer picks the highest-scoring sentences of the article and keeps
// them in their original order. A sentence scores the mean corpus frequency of its
// content words, with a bonus for the lead sentence.
type ExtractiveSummarizer struct {
	sentences int
}

// NewExtractiveSummarizer returns a summarizer producing up to sentences sentences (clamped to 2..4).
func NewExtractiveSummarizer(sentences int) *ExtractiveSummarizer {
	return &ExtractiveSummarizer{sentences: ClampSentences(sentences)}
}

// Summarize returns the summary. Articles with no sentence boundaries are truncated.
func (s *ExtractiveSummarizer) Summarize(ctx context.Context, a *models.Article) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sentences := utils.SplitSentences(a.RawText)
	if len(sentences) == 0 {
		return "", fmt.Errorf("summarize %s: no text", a.ID)
	}
	if len(sentences) <= s.sentences {
		return utils.Truncate(strings.Join(sentences, " "), maxSummaryRunes), nil
	}

	freq := make(map[string]float64)
	for _, tok := range utils.Tokenize(a.Title + " " + a.RawText) {
		freq[tok]++
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := utils.Tokenize(sent)
		var total float64
		for _, t := range toks {
			total += freq[t]
		}
		score := 0.0
		if len(toks) > 0 {
			score = total / float64(len(toks))
		}
		if i == 0 {
			score *= 1.5
		}
		ranked[i] = scored{idx: i, score: score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	picked := ranked[:s.sentences]
	sort.Slice(picked, func(i, j int) bool { return picked[i].idx < picked[j].idx })
	out := make([]string, len(picked))
	for i, p := range picked {
		out[i] = sentences[p.idx]
	}
	return utils.Truncate(strings.Join(out, " "), maxSummaryRunes), nil
}

const summarySystemPrompt = `You summarize news articles. Write a neutral summary of %d to %d sentences using only facts from the article. Reply with the summary only.`

// CompletionSummarizer writes abstractive summaries through the completion capability.
type CompletionSummarizer struct {
	completer llm.Completer
	sentences int
}

// NewCompletionSummarizer returns a summarizer asking completer for about sentences sentences.
func NewCompletionSummarizer(completer llm.Completer, sentences int) *CompletionSummarizer {
	return &CompletionSummarizer{completer: completer, sentences: ClampSentences(sentences)}
}

// Summarize asks the model for a summary of a.
func (s *CompletionSummarizer) Summarize(ctx context.Context, a *models.Article) (string, error) {
	reply, err := s.completer.Complete(ctx, llm.Request{
		System:    fmt.Sprintf(summarySystemPrompt, MinSummarySentences, s.sentences),
		Prompt:    "Summarize this article.",
		Documents: []llm.Document{{Index: 1, ID: a.ID, Title: a.Title, Source: a.Source, PublishedAt: a.PublishedAt, Text: a.RawText}},
		MaxTokens: 300,
	})
	if err != nil {
		return "", err
	}
	summary := utils.CollapseWhitespace(reply)
	if summary == "" {
		return "", fmt.Errorf("summarize %s: empty reply", a.ID)
	}
	return utils.Truncate(summary, maxSummaryRunes), nil
}
