// Package engine implements the recursive sitemap traversal: existence check,
// fetch with retries, extraction, persistence and batched fan-out to child
// URLs.
package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
	"github.com/DavidLozzi/starwars-graph/internal/dispatcher"
	"github.com/DavidLozzi/starwars-graph/internal/extract"
	"github.com/DavidLozzi/starwars-graph/internal/fetcher"
	"github.com/DavidLozzi/starwars-graph/internal/persister"
	"github.com/DavidLozzi/starwars-graph/internal/progress"
)

// Oracle answers whether a URL was captured before.
type Oracle interface {
	Exists(ctx context.Context, url string) bool
}

// Persister stores a captured document.
type Persister interface {
	Persist(ctx context.Context, title, url, content string) (persister.Outcome, error)
}

// Retrier fetches with retries.
type Retrier interface {
	Fetch(ctx context.Context, url string, failures crawler.FailureRecorder) fetcher.Result
}

// Config holds traversal settings that do not vary per crawl.
type Config struct {
	IgnoredPaths []string
	MaxURLLength int
	IndexMarker  string
}

// Options select what one Crawl or Recover call does.
type Options struct {
	// BaseURL restricts traversal to URLs starting with it.
	BaseURL string
	// FullCrawl follows every index entry instead of only recently modified ones.
	FullCrawl bool
	// Since is the incremental threshold; zero means extract.DefaultSince.
	Since time.Time
	// Failures receives one record per failed fetch attempt.
	Failures crawler.FailureRecorder
}

// Engine runs traversals for one session.
type Engine struct {
	session    *crawler.Session
	oracle     Oracle
	retrier    Retrier
	persister  Persister
	dispatcher *dispatcher.Dispatcher
	emitter    progress.Emitter
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Engine. A nil emitter discards progress events.
func New(
	session *crawler.Session,
	oracle Oracle,
	retrier Retrier,
	persister Persister,
	dispatch *dispatcher.Dispatcher,
	emitter progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = crawler.DefaultMaxURLLength
	}
	if cfg.IndexMarker == "" {
		cfg.IndexMarker = crawler.DefaultIndexMarker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		session:    session,
		oracle:     oracle,
		retrier:    retrier,
		persister:  persister,
		dispatcher: dispatch,
		emitter:    emitter,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("engine"),
	}
}

// traversal carries the per-call settings shared by every recursive visit.
type traversal struct {
	opts   Options
	filter *crawler.LinkFilter
}

func (e *Engine) newTraversal(opts Options) *traversal {
	if opts.Since.IsZero() {
		opts.Since = extract.DefaultSince
	}
	return &traversal{
		opts:   opts,
		filter: crawler.NewLinkFilter(opts.BaseURL, e.cfg.IgnoredPaths, e.cfg.MaxURLLength),
	}
}

// Crawl traverses everything reachable from seed and returns once every
// branch has settled. The returned error is non-nil only when ctx ended.
func (e *Engine) Crawl(ctx context.Context, seed string, opts Options) error {
	t := e.newTraversal(opts)
	start := e.clock.Now()
	e.emit(progress.Event{Stage: progress.StageCrawlStart, URL: seed})
	e.logger.Info("crawl started",
		zap.String("session_id", e.session.ID.String()),
		zap.String("seed", seed),
		zap.String("base_url", opts.BaseURL),
		zap.Bool("full_crawl", opts.FullCrawl),
		zap.Time("since", t.opts.Since),
	)

	e.visit(ctx, seed, t)

	e.finish(seed, start)
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context errors are returned as-is
	}
	return nil
}

func (e *Engine) finish(seed string, start time.Time) {
	now := e.clock.Now()
	snap := e.session.Snapshot()
	e.emit(progress.Event{Stage: progress.StageCrawlDone, URL: seed, Dur: max(now.Sub(start), 0)})
	e.logger.Info("crawl finished",
		zap.Duration("elapsed", now.Sub(snap.StartedAt)),
		zap.Float64("pages_per_second", snap.PagesPerSecond(now)),
		zap.Int64("processed", snap.Processed),
		zap.Int64("added", snap.Added),
		zap.Int64("updated", snap.Updated),
		zap.Int64("skipped", snap.Skipped),
		zap.Int64("deduped", snap.Deduped),
		zap.Int64("failed", snap.Failed),
	)
}

// visit processes one URL and recurses into its children.
func (e *Engine) visit(ctx context.Context, url string, t *traversal) {
	if ctx.Err() != nil {
		return
	}
	e.logCounters(url)

	if e.oracle.Exists(ctx, url) {
		e.session.IncDeduped()
		e.emit(progress.Event{Stage: progress.StageDeduped, URL: url})
		e.logger.Debug("already captured", zap.String("url", url))
		return
	}

	res := e.retrier.Fetch(ctx, url, t.opts.Failures)
	if res.Kind != fetcher.Ok {
		e.session.IncFailed()
		e.emit(progress.Event{
			Stage: progress.StageFetchFailed,
			Site:  crawler.Host(url),
			URL:   url,
			Note:  reasonText(res.Reason),
		})
		return
	}
	resp := res.Response
	e.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		Site:        crawler.Host(url),
		URL:         url,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         resp.Duration,
	})
	if _, known := crawler.ClassifyContentType(resp.ContentType); !known {
		e.logger.Warn("unknown content type, treating as document",
			zap.String("url", url),
			zap.String("content_type", resp.ContentType),
		)
	}

	if resp.Truncated {
		e.logger.Warn("response body hit the size limit, content is incomplete",
			zap.String("url", url),
			zap.Int("bytes", len(resp.Body)),
		)
	}

	if resp.Kind == crawler.KindIndex {
		e.handleIndex(ctx, url, resp.Body, t)
		return
	}
	e.handleDocument(ctx, url, resp.Body)
}

func (e *Engine) handleIndex(ctx context.Context, url string, body []byte, t *traversal) {
	links, err := extract.Links(body, t.opts.FullCrawl, t.opts.Since)
	if err != nil {
		e.logger.Warn("index extraction failed", zap.String("url", url), zap.Error(err))
		return
	}
	children := e.acceptChildren(url, links, t)
	e.logger.Info("processing links",
		zap.String("url", url),
		zap.Int("found", len(links)),
		zap.Int("accepted", len(children)),
	)
	if len(children) == 0 {
		return
	}
	err = e.dispatcher.Run(ctx, children, func(ctx context.Context, child string) {
		e.visit(ctx, child, t)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("dispatch interrupted", zap.String("url", url), zap.Error(err))
	}
	e.logger.Debug("finished index", zap.String("url", url))
}

func (e *Engine) acceptChildren(url string, links []string, t *traversal) []string {
	children := make([]string, 0, len(links))
	for _, link := range links {
		clean, reason := t.filter.Accept(url, link)
		if reason != crawler.Accepted {
			e.session.IncSkipped()
			e.emit(progress.Event{Stage: progress.StageLinkSkipped, URL: clean, Note: string(reason)})
			continue
		}
		children = append(children, clean)
	}
	return children
}

func (e *Engine) handleDocument(ctx context.Context, url string, body []byte) {
	title, content, err := extract.Document(body)
	if err != nil {
		e.session.IncFailed()
		e.logger.Warn("document extraction failed", zap.String("url", url), zap.Error(err))
		return
	}

	outcome, err := e.persister.Persist(ctx, title, url, content)
	e.session.IncProcessed()
	switch {
	case err != nil:
		e.session.IncFailed()
		e.emit(progress.Event{Stage: progress.StagePageFailed, URL: url, Note: err.Error()})
		e.logger.Error("persist failed", zap.String("url", url), zap.Error(err))
	case outcome == persister.Inserted:
		e.session.IncAdded()
		e.emit(progress.Event{Stage: progress.StagePageAdded, URL: url})
		e.logger.Debug("added url", zap.String("url", url), zap.String("title", title))
	case outcome == persister.Updated:
		e.session.IncUpdated()
		e.emit(progress.Event{Stage: progress.StagePageUpdated, URL: url})
		e.logger.Debug("updated url", zap.String("url", url), zap.String("title", title))
	}
}

func (e *Engine) logCounters(url string) {
	if !e.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	now := e.clock.Now()
	snap := e.session.Snapshot()
	e.logger.Debug("visiting",
		zap.String("url", url),
		zap.Int64("checked", snap.Known),
		zap.Int64("processed", snap.Processed),
		zap.Int64("added", snap.Added),
		zap.Int64("skipped", snap.Skipped),
		zap.Duration("elapsed", snap.Elapsed(now)),
		zap.Float64("pages_per_second", snap.PagesPerSecond(now)),
	)
}

func (e *Engine) emit(evt progress.Event) {
	evt.SessionID = progress.UUIDToBytes(e.session.ID)
	evt.TS = e.clock.Now()
	e.emitter.Emit(evt)
}

func reasonText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
