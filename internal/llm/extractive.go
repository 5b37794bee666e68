package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kiji/pkg/utils"
)

// NoAnswer is returned by the extractive completer when it has no documents.
const NoAnswer = "The provided articles do not contain an answer to this question."

// ExtractiveCompleter answers offline by quoting, from each document, the sentence
// that best matches the prompt, followed by the document's citation marker.
type ExtractiveCompleter struct {
	// MaxDocuments caps how many documents are quoted. Zero quotes all of them.
	MaxDocuments int
}

// NewExtractiveCompleter returns an ExtractiveCompleter quoting at most maxDocs documents.
func NewExtractiveCompleter(maxDocs int) *ExtractiveCompleter {
	return &ExtractiveCompleter{MaxDocuments: maxDocs}
}

// Name identifies the completer.
func (e *ExtractiveCompleter) Name() string {
	return "extractive"
}

// Complete builds an answer from document sentences. It never fails except on cancellation.
func (e *ExtractiveCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	docs := req.Documents
	if e.MaxDocuments > 0 && len(docs) > e.MaxDocuments {
		docs = docs[:e.MaxDocuments]
	}
	if len(docs) == 0 {
		return NoAnswer, nil
	}

	terms := make(map[string]struct{})
	for _, t := range utils.Tokenize(req.Prompt) {
		terms[t] = struct{}{}
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		sentence := bestSentence(d.Text, terms)
		if sentence == "" {
			continue
		}
		sentence = strings.TrimRight(sentence, " ")
		parts = append(parts, fmt.Sprintf("%s [%d]", sentence, d.Index))
	}
	if len(parts) == 0 {
		return NoAnswer, nil
	}
	return strings.Join(parts, " "), nil
}

// bestSentence returns the sentence sharing the most terms with the prompt.
// Ties go to the earlier sentence, so a prompt with no overlap yields the lead.
func bestSentence(text string, terms map[string]struct{}) string {
	sentences := utils.SplitSentences(text)
	best, bestScore := "", -1
	for _, s := range sentences {
		score := 0
		for _, t := range utils.Tokenize(s) {
			if _, ok := terms[t]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}
