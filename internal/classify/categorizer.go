// Package classify assigns articles to one of the closed set of categories.
package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"go.uber.org/zap"
)

// Defaults for the categorizer policy.
const (
	DefaultThreshold   = 0.5
	DefaultMaxAttempts = 3
	DefaultCallTimeout = 30 * time.Second
	// MaxInputRunes bounds the text handed to a classifier.
	MaxInputRunes = 2048
)

// Classifier scores text against the category labels.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.Category, float64, error)
}

// Outcome is the result of categorizing one article. The category is always set.
type Outcome struct {
	Category   models.Category
	Confidence float64
	Attempts   int
	// Note explains a fallback to uncategorized.
	Note string
	// Failed is true when every attempt errored.
	Failed bool
}

// Categorizer gates classifier output on confidence and retries failed calls.
type Categorizer struct {
	classifier  Classifier
	threshold   float64
	maxAttempts int
	callTimeout time.Duration
	policy      llm.RetryPolicy
	allowed     map[models.Category]bool
	logger      *zap.Logger
}

// Option configures a Categorizer.
type Option func(*Categorizer)

// WithThreshold sets the minimum confidence for a label to stick.
func WithThreshold(t float64) Option {
	return func(c *Categorizer) { c.threshold = t }
}

// WithMaxAttempts sets how many times a failing classifier is called.
func WithMaxAttempts(n int) Option {
	return func(c *Categorizer) { c.maxAttempts = n }
}

// WithCallTimeout bounds each classifier call.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Categorizer) { c.callTimeout = d }
}

// WithBackoff sets the retry intervals.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Categorizer) {
		c.policy.InitialInterval = initial
		c.policy.MaxInterval = max
	}
}

// WithLabels restricts assignable labels to a subset of the closed set.
func WithLabels(labels []models.Category) Option {
	return func(c *Categorizer) {
		c.allowed = make(map[models.Category]bool, len(labels))
		for _, l := range labels {
			c.allowed[l] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Categorizer) { c.logger = l }
}

// NewCategorizer wraps classifier with the default policy.
func NewCategorizer(classifier Classifier, opts ...Option) *Categorizer {
	c := &Categorizer{
		classifier:  classifier,
		threshold:   DefaultThreshold,
		maxAttempts: DefaultMaxAttempts,
		callTimeout: DefaultCallTimeout,
		policy:      llm.DefaultRetryPolicy,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.allowed == nil {
		WithLabels(models.Categories)(c)
	}
	c.policy.MaxAttempts = c.maxAttempts
	return c
}

// Categorize labels a. Any error, timeout, low confidence, or out-of-set label
// yields uncategorized with a note; it never returns an error.
func (c *Categorizer) Categorize(ctx context.Context, a *models.Article) Outcome {
	text := a.EmbeddingInput(MaxInputRunes)

	var (
		label models.Category
		conf  float64
	)
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		l, p, err := c.classifier.Classify(callCtx, text)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		label, conf = l, p
		return nil
	}, c.policy.NewBackOff(ctx))

	if err != nil {
		c.logger.Warn("Classification failed",
			zap.String("article_id", a.ID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return Outcome{
			Category: models.CategoryUncategorized,
			Attempts: attempts,
			Note:     fmt.Sprintf("classification failed after %d attempts: %v", attempts, err),
			Failed:   true,
		}
	}

	out := Outcome{Category: label, Confidence: conf, Attempts: attempts}
	switch {
	case label == models.CategoryUncategorized:
		out.Note = "classifier abstained"
	case !label.Valid() || !c.allowed[label]:
		out.Category = models.CategoryUncategorized
		out.Note = fmt.Sprintf("label %q outside the category set", label)
	case conf < c.threshold:
		out.Category = models.CategoryUncategorized
		out.Note = fmt.Sprintf("confidence %.2f for %s below threshold %.2f", conf, label, c.threshold)
	}
	return out
}

// ErrNoLabels is returned by classifiers that have nothing to score against.
var ErrNoLabels = errors.New("classifier has no labels")
