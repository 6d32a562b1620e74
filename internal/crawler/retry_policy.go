package crawler

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy decides whether a failed fetch is attempted again and how long
// to wait first.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Defaults for FixedRetryPolicy.
const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = time.Second
)

// FixedRetryPolicy retries every non-permanent error a fixed number of times
// with a constant delay.
type FixedRetryPolicy struct {
	maxRetries int
	delay      time.Duration
}

// NewFixedRetryPolicy builds a policy. Negative values fall back to defaults.
func NewFixedRetryPolicy(maxRetries int, delay time.Duration) *FixedRetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if delay < 0 {
		delay = DefaultRetryDelay
	}
	return &FixedRetryPolicy{maxRetries: maxRetries, delay: delay}
}

// MaxRetries returns the number of retries after the first attempt.
func (p *FixedRetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// ShouldRetry reports whether attempt (1-based, already failed) may be
// followed by another one.
func (p *FixedRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return attempt <= p.maxRetries
}

// Backoff returns the fixed delay regardless of attempt.
func (p *FixedRetryPolicy) Backoff(int) time.Duration {
	return p.delay
}

// IsPermanent reports errors that retrying cannot fix. Request timeouts
// surface as deadline errors too, so they stay retryable here; callers check
// their own context separately.
func IsPermanent(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidURL)
}
