// Package oracle answers whether a URL has already been captured, consulting
// the session's local set, the shared cache and the durable store in that
// order. The durable store is authoritative; faster tiers are only ever
// populated from it or after a successful insert.
package oracle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

// DefaultPreloadBatchSize is the number of URLs copied per cache write.
const DefaultPreloadBatchSize = 5000

// Config tunes the Oracle.
type Config struct {
	// IndexMarker identifies index URLs, which always need processing.
	IndexMarker      string
	PreloadBatchSize int
}

// Oracle is the three-tier existence check.
type Oracle struct {
	session *crawler.Session
	cache   crawler.URLCache
	store   crawler.PageStore
	cfg     Config
	logger  *zap.Logger
}

// PreloadStats summarizes a cache warm-up.
type PreloadStats struct {
	CachedBefore int64
	CachedAfter  int64
	Read         int64
	Added        int64
	Batches      int
}

// New wires the tiers. cache may be nil, in which case only the local set and
// the store are consulted.
func New(session *crawler.Session, cache crawler.URLCache, store crawler.PageStore, cfg Config, logger *zap.Logger) *Oracle {
	if cfg.IndexMarker == "" {
		cfg.IndexMarker = crawler.DefaultIndexMarker
	}
	if cfg.PreloadBatchSize <= 0 {
		cfg.PreloadBatchSize = DefaultPreloadBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		session: session,
		cache:   cache,
		store:   store,
		cfg:     cfg,
		logger:  logger.Named("oracle"),
	}
}

// Exists reports whether url was captured before. Index URLs are never
// reported as existing so they are always traversed again.
func (o *Oracle) Exists(ctx context.Context, url string) bool {
	if crawler.IsIndexURL(url, o.cfg.IndexMarker) {
		return false
	}
	return o.Captured(ctx, url)
}

// Captured consults the tiers for url without the index bypass. Cache
// failures fall through to the store; store failures answer false.
func (o *Oracle) Captured(ctx context.Context, url string) bool {
	if o.session.Known(url) {
		return true
	}

	if o.cache != nil {
		found, err := o.cache.IsMember(ctx, url)
		switch {
		case err != nil:
			o.logger.Warn("cache lookup failed", zap.String("url", url), zap.Error(err))
		case found:
			o.session.Remember(url)
			return true
		}
	}

	found, err := o.store.URLExists(ctx, url)
	if err != nil {
		o.logger.Error("store lookup failed", zap.String("url", url), zap.Error(err))
		return false
	}
	if !found {
		return false
	}
	o.promote(ctx, url)
	return true
}

// MarkCaptured records url in the cache and the local set. It must only be
// called after the durable insert succeeded.
func (o *Oracle) MarkCaptured(ctx context.Context, url string) {
	o.promote(ctx, url)
}

func (o *Oracle) promote(ctx context.Context, url string) {
	if o.cache != nil {
		if err := o.cache.Add(ctx, url); err != nil {
			o.logger.Warn("cache add failed", zap.String("url", url), zap.Error(err))
		}
	}
	o.session.Remember(url)
}

// Preload copies every stored URL into the cache and the local set.
func (o *Oracle) Preload(ctx context.Context) (PreloadStats, error) {
	var stats PreloadStats
	if o.cache != nil {
		before, err := o.cache.Count(ctx)
		if err != nil {
			o.logger.Warn("cache count failed", zap.Error(err))
		}
		stats.CachedBefore = before
	}
	o.logger.Info("preloading captured urls",
		zap.Int64("cached_before", stats.CachedBefore),
		zap.Int("batch_size", o.cfg.PreloadBatchSize),
	)

	err := o.store.DistinctURLs(ctx, o.cfg.PreloadBatchSize, func(batch []string) error {
		stats.Batches++
		stats.Read += int64(len(batch))
		if o.cache != nil {
			added, err := o.cache.AddMany(ctx, batch)
			if err != nil {
				return fmt.Errorf("cache batch %d: %w", stats.Batches, err)
			}
			stats.Added += added
		}
		for _, u := range batch {
			o.session.Remember(u)
		}
		o.logger.Debug("preload batch cached",
			zap.Int("batch", stats.Batches),
			zap.Int("size", len(batch)),
		)
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("preload: %w", err)
	}

	if o.cache != nil {
		after, cerr := o.cache.Count(ctx)
		if cerr != nil {
			o.logger.Warn("cache count failed", zap.Error(cerr))
		}
		stats.CachedAfter = after
	}
	o.logger.Info("preload complete",
		zap.Int64("read", stats.Read),
		zap.Int64("added", stats.Added),
		zap.Int64("cached_after", stats.CachedAfter),
		zap.Int64("local", o.session.KnownCount()),
	)
	return stats, nil
}
