// Package llm provides the completion capability: grounded generation over a set of
// numbered documents, backed by Gemini, Claude, or an offline extractive fallback.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Document is one numbered source passed to a completion.
type Document struct {
	Index       int
	ID          string
	Title       string
	Source      string
	URL         string
	PublishedAt time.Time
	Text        string
}

// Request is a single completion call.
type Request struct {
	// System is the instruction given to the model ahead of the conversation.
	System string
	// Prompt is the question or task.
	Prompt string
	// Documents are rendered as a numbered context block ahead of the prompt.
	Documents []Document
	// MaxTokens bounds the response length. Zero uses the provider default.
	MaxTokens int
}

// Completer generates text for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// GroundedSystemPrompt instructs a model to answer only from the given articles and cite them.
const GroundedSystemPrompt = `You are a news assistant. Answer the question using only the numbered articles provided.
Cite every claim with the article number in square brackets, for example [1] or [2][3].
If the articles do not contain the answer, say so. Do not use outside knowledge.`

// FormatContext renders documents as a numbered block, one article per entry.
func FormatContext(docs []Document) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] From %s", d.Index, d.Source)
		if !d.PublishedAt.IsZero() {
			fmt.Fprintf(&b, " (%s)", d.PublishedAt.Format("2006-01-02"))
		}
		b.WriteString(":")
		if d.Title != "" {
			b.WriteString(" ")
			b.WriteString(d.Title)
		}
		b.WriteString("\n")
		b.WriteString(d.Text)
	}
	return b.String()
}

// UserMessage is the single user turn sent to a provider for req.
func UserMessage(req Request) string {
	if len(req.Documents) == 0 {
		return req.Prompt
	}
	return "Articles:\n\n" + FormatContext(req.Documents) + "\n\n" + req.Prompt
}
