package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperjump/kiji/internal/models"
)

// transientMarkers are substrings of provider errors that are worth retrying.
var transientMarkers = []string{
	"429",
	"RESOURCE_EXHAUSTED",
	"quota",
	"rate limit",
	"rate_limit",
	"overloaded",
	"UNAVAILABLE",
	"500",
	"502",
	"503",
	"504",
	"529",
	"timeout",
	"connection reset",
}

// IsTransientError reports whether err looks like a rate limit, timeout, or server-side failure.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if models.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// ClassifyError wraps transient errors as *models.TransientProviderError for capability.
// Other errors are returned unchanged.
func ClassifyError(capability string, err error) error {
	if err == nil || models.IsTransient(err) {
		return err
	}
	if IsTransientError(err) {
		return &models.TransientProviderError{Capability: capability, Err: err}
	}
	return err
}

// RetryPolicy bounds retries of a provider call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is three attempts with exponential backoff starting at 500ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialInterval: 500 * time.Millisecond, MaxInterval: 10 * time.Second}

// NewBackOff returns an exponential backoff bounded by the policy and cancelled with ctx.
func (p RetryPolicy) NewBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Retry calls op until it succeeds, fails permanently, or the policy is exhausted.
// Only transient errors are retried. It returns the number of attempts made.
func (p RetryPolicy) Retry(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.NewBackOff(ctx))
	return attempts, err
}
