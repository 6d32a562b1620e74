// Package fetcher layers retries and failure recording over a single-attempt
// crawler.Fetcher and reports the outcome as an explicit Result.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

// ResultKind is the terminal classification of a fetch.
type ResultKind int

// Fetch outcomes.
const (
	// Ok carries a usable response.
	Ok ResultKind = iota
	// Retryable is the classification of a single failed attempt that may be
	// repeated. Retrier.Fetch never returns it as a final result.
	Retryable
	// Skip means the URL is abandoned for this session.
	Skip
)

func (k ResultKind) String() string {
	switch k {
	case Ok:
		return "ok"
	case Retryable:
		return "retryable"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the outcome of Retrier.Fetch.
type Result struct {
	Kind     ResultKind
	Response crawler.FetchResponse
	// Reason is the last error observed when Kind is Skip.
	Reason   error
	Attempts int
}

// Classify maps a single-attempt error to a ResultKind.
func Classify(err error) ResultKind {
	switch {
	case err == nil:
		return Ok
	case crawler.IsPermanent(err):
		return Skip
	default:
		return Retryable
	}
}

// Retrier fetches a URL, recording each failed attempt and retrying
// transient failures sequentially according to its policy.
type Retrier struct {
	fetcher crawler.Fetcher
	policy  crawler.RetryPolicy
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewRetrier wires a fetcher and policy. A nil policy uses the defaults of
// crawler.NewFixedRetryPolicy.
func NewRetrier(f crawler.Fetcher, policy crawler.RetryPolicy, logger *zap.Logger) *Retrier {
	if policy == nil {
		policy = crawler.NewFixedRetryPolicy(crawler.DefaultMaxRetries, crawler.DefaultRetryDelay)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		fetcher: f,
		policy:  policy,
		logger:  logger.Named("fetcher"),
		sleep:   crawler.Pause,
	}
}

// Fetch runs attempts until one succeeds, the policy gives up, or ctx ends.
// Every failed attempt is passed to failures when it is non-nil. The result
// is never Retryable.
func (r *Retrier) Fetch(ctx context.Context, url string, failures crawler.FailureRecorder) Result {
	var (
		lastErr error
		attempt int
	)
	for attempt = 1; ; attempt++ {
		resp, err := r.fetcher.Fetch(ctx, url)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("fetch recovered", zap.String("url", url), zap.Int("attempt", attempt))
			}
			return Result{Kind: Ok, Response: resp, Attempts: attempt}
		}
		lastErr = err
		r.record(failures, url, err)

		if ctx.Err() != nil || Classify(err) == Skip {
			r.logger.Warn("fetch abandoned", zap.String("url", url), zap.Error(err))
			return Result{Kind: Skip, Reason: err, Attempts: attempt}
		}
		if !r.policy.ShouldRetry(err, attempt) {
			break
		}
		r.logger.Warn("fetch attempt failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := r.sleep(ctx, r.policy.Backoff(attempt)); err != nil {
			return Result{Kind: Skip, Reason: err, Attempts: attempt}
		}
	}
	r.logger.Error("fetch retries exhausted", zap.String("url", url), zap.Error(lastErr))
	return Result{Kind: Skip, Reason: lastErr, Attempts: attempt}
}

func (r *Retrier) record(failures crawler.FailureRecorder, url string, cause error) {
	if failures == nil {
		return
	}
	if err := failures.Record(url, cause); err != nil {
		r.logger.Error("failed to record fetch failure", zap.String("url", url), zap.Error(err))
	}
}
