package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

func TestFormatContext(t *testing.T) {
	docs := []Document{
		{Index: 1, Source: "abc", Title: "RBA holds", PublishedAt: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), Text: "Rates unchanged."},
		{Index: 2, Source: "smh", Text: "Markets rallied."},
	}
	want := "[1] From abc (2025-03-04): RBA holds\nRates unchanged.\n\n[2] From smh:\nMarkets rallied."
	if got := FormatContext(docs); got != want {
		t.Errorf("FormatContext =\n%s\nwant\n%s", got, want)
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(Request{Prompt: "hi"}); got != "hi" {
		t.Errorf("no documents: %q", got)
	}
	got := UserMessage(Request{Prompt: "Question?", Documents: []Document{{Index: 1, Source: "abc", Text: "x"}}})
	if !strings.HasPrefix(got, "Articles:\n\n[1] From abc:") || !strings.HasSuffix(got, "\n\nQuestion?") {
		t.Errorf("UserMessage = %q", got)
	}
}

func TestExtractiveCompleter(t *testing.T) {
	c := NewExtractiveCompleter(0)
	docs := []Document{
		{Index: 1, Text: "Parliament sat late. The Reserve Bank kept the cash rate at 4.35 per cent. Analysts were split."},
		{Index: 2, Text: "Interest rates are expected to fall later this year."},
	}
	got, err := c.Complete(context.Background(), Request{Prompt: "What happened with the cash rate?", Documents: docs})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := "The Reserve Bank kept the cash rate at 4.35 per cent. [1] Interest rates are expected to fall later this year. [2]"
	if got != want {
		t.Errorf("Complete = %q, want %q", got, want)
	}

	got, err = c.Complete(context.Background(), Request{Prompt: "anything"})
	if err != nil || got != NoAnswer {
		t.Errorf("no documents = %q, %v", got, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Complete(ctx, Request{Documents: docs}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled = %v", err)
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Error 429, Status: RESOURCE_EXHAUSTED"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("overloaded_error"), true},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{&models.TransientProviderError{Capability: "x", Err: errors.New("boom")}, true},
		{errors.New("400 invalid request"), false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		if got := IsTransientError(tt.err); got != tt.want {
			t.Errorf("IsTransientError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestClassifyError(t *testing.T) {
	err := ClassifyError("embedding", errors.New("429 quota exceeded"))
	var tpe *models.TransientProviderError
	if !errors.As(err, &tpe) || tpe.Capability != "embedding" {
		t.Fatalf("ClassifyError = %v", err)
	}
	permanent := errors.New("invalid api key")
	if got := ClassifyError("embedding", permanent); got != permanent {
		t.Errorf("permanent error rewritten: %v", got)
	}
	if ClassifyError("embedding", nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	calls := 0
	attempts, err := p.Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("503 unavailable")
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Errorf("transient then ok: attempts=%d err=%v", attempts, err)
	}

	attempts, err = p.Retry(context.Background(), func(context.Context) error {
		return errors.New("429 too many requests")
	})
	if err == nil || attempts != 3 {
		t.Errorf("exhausted: attempts=%d err=%v", attempts, err)
	}

	attempts, err = p.Retry(context.Background(), func(context.Context) error {
		return errors.New("invalid argument")
	})
	if err == nil || err.Error() != "invalid argument" || attempts != 1 {
		t.Errorf("permanent: attempts=%d err=%v", attempts, err)
	}
}
