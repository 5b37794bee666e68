package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
)

const classifySystemPrompt = `You classify news articles. Reply with a single JSON object and nothing else:
{"label": "<one of the allowed labels>", "confidence": <number between 0 and 1>}`

// CompletionClassifier classifies zero-shot through the completion capability.
type CompletionClassifier struct {
	completer llm.Completer
	labels    []models.Category
}

// NewCompletionClassifier returns a classifier that asks completer to choose among labels.
func NewCompletionClassifier(completer llm.Completer, labels []models.Category) *CompletionClassifier {
	return &CompletionClassifier{completer: completer, labels: labels}
}

type completionAnswer struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classify asks the model for a label and confidence and parses its JSON reply.
func (c *CompletionClassifier) Classify(ctx context.Context, text string) (models.Category, float64, error) {
	if len(c.labels) == 0 {
		return "", 0, ErrNoLabels
	}
	names := make([]string, len(c.labels))
	for i, l := range c.labels {
		names[i] = string(l)
	}
	reply, err := c.completer.Complete(ctx, llm.Request{
		System:    classifySystemPrompt,
		Prompt:    fmt.Sprintf("Allowed labels: %s.\n\nArticle:\n%s", strings.Join(names, ", "), text),
		MaxTokens: 64,
	})
	if err != nil {
		return "", 0, err
	}
	return ParseAnswer(reply)
}

// ParseAnswer extracts the label and confidence from a model reply. The JSON object
// may be wrapped in prose or a code fence.
func ParseAnswer(reply string) (models.Category, float64, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return "", 0, fmt.Errorf("classifier reply has no JSON object: %q", reply)
	}
	var ans completionAnswer
	if err := json.Unmarshal([]byte(reply[start:end+1]), &ans); err != nil {
		return "", 0, fmt.Errorf("decode classifier reply: %w", err)
	}
	if ans.Confidence < 0 || ans.Confidence > 1 {
		return "", 0, fmt.Errorf("classifier confidence %v out of range", ans.Confidence)
	}
	// An unknown label is passed through so the categorizer can annotate it.
	return models.Category(strings.ToLower(strings.TrimSpace(ans.Label))), ans.Confidence, nil
}
