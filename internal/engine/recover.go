package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/DavidLozzi/starwars-graph/internal/dispatcher"
	"github.com/DavidLozzi/starwars-graph/internal/progress"
)

// recoverySeed labels the start and done events of a recovery pass.
const recoverySeed = "recovery"

// RecoverStats summarizes a recovery pass.
type RecoverStats struct {
	// Listed is the number of distinct non-blank URLs handed to Recover.
	Listed int
	// AlreadyCaptured were skipped because the oracle knows them.
	AlreadyCaptured int
	// Retried were traversed again.
	Retried int
}

// Recover re-crawls URLs taken from a failure log. Blank and repeated URLs are
// dropped, URLs the oracle already knows are skipped, and the rest are
// traversed with pacing, each as a full recursive crawl. New failures go to
// opts.Failures.
func (e *Engine) Recover(ctx context.Context, urls []string, pacing *dispatcher.Dispatcher, opts Options) (RecoverStats, error) {
	t := e.newTraversal(opts)
	start := e.clock.Now()
	var stats RecoverStats

	seen := make(map[string]struct{}, len(urls))
	pending := make([]string, 0, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		stats.Listed++
		if e.oracle.Exists(ctx, url) {
			stats.AlreadyCaptured++
			e.logger.Debug("recovered url already captured", zap.String("url", url))
			continue
		}
		pending = append(pending, url)
	}
	stats.Retried = len(pending)
	e.emit(progress.Event{Stage: progress.StageCrawlStart, URL: recoverySeed})

	e.logger.Info("recovery started",
		zap.String("session_id", e.session.ID.String()),
		zap.Int("listed", stats.Listed),
		zap.Int("already_captured", stats.AlreadyCaptured),
		zap.Int("retrying", stats.Retried),
	)

	err := pacing.Run(ctx, pending, func(ctx context.Context, url string) {
		e.visit(ctx, url, t)
	})
	e.finish(recoverySeed, start)
	return stats, err
}
