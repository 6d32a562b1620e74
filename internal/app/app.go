// Package app initializes and holds long-lived crawler services, acting as a
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/DavidLozzi/starwars-graph/internal/api"
	memcache "github.com/DavidLozzi/starwars-graph/internal/cache/memory"
	rediscache "github.com/DavidLozzi/starwars-graph/internal/cache/redis"
	"github.com/DavidLozzi/starwars-graph/internal/config"
	"github.com/DavidLozzi/starwars-graph/internal/crawler"
	"github.com/DavidLozzi/starwars-graph/internal/dispatcher"
	"github.com/DavidLozzi/starwars-graph/internal/engine"
	"github.com/DavidLozzi/starwars-graph/internal/failurelog"
	"github.com/DavidLozzi/starwars-graph/internal/fetcher"
	collyfetcher "github.com/DavidLozzi/starwars-graph/internal/fetcher/colly"
	"github.com/DavidLozzi/starwars-graph/internal/logging"
	"github.com/DavidLozzi/starwars-graph/internal/oracle"
	"github.com/DavidLozzi/starwars-graph/internal/persister"
	"github.com/DavidLozzi/starwars-graph/internal/progress"
	"github.com/DavidLozzi/starwars-graph/internal/progress/sinks"
	"github.com/DavidLozzi/starwars-graph/internal/storage"
)

const closeTimeout = 10 * time.Second

// App holds the shared services of one crawl session.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	clock   crawler.Clock
	store   crawler.PageStore
	cache   crawler.URLCache
	session *crawler.Session
	oracle  *oracle.Oracle
	engine  *engine.Engine
	hub     *progress.Hub
	server  *api.Server
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	fetcher    crawler.Fetcher
	clock      crawler.Clock
}

// WithLogger replaces the logger built from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers progress metrics on reg instead of the default
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithClock replaces the system clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// NewApp builds every service from cfg. It fails fast when the logger, the
// durable store or the cache cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = crawler.SystemClock{}
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	logger.Info("initializing crawler services",
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	store, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	cache, err := openCache(ctx, cfg.Cache)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init cache: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		store.Close()
		closeCache(cache, logger)
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		FlushInterval:  cfg.Progress.FlushInterval,
		Logger:         logger,
	}, sinks.NewLogSink(logger), promSink)

	session := crawler.NewSession(o.clock)
	orc := oracle.New(session, cache, store, oracle.Config{
		IndexMarker:      cfg.Crawl.IndexMarker,
		PreloadBatchSize: cfg.Cache.PreloadBatchSize,
	}, logger)

	fetch := o.fetcher
	if fetch == nil {
		fetch = collyfetcher.New(collyfetcher.Config{
			UserAgent:    cfg.HTTP.UserAgent,
			Timeout:      cfg.HTTP.Timeout,
			MaxRedirects: cfg.HTTP.MaxRedirects,
			MaxBodySize:  cfg.HTTP.MaxBodySize,
		})
	}
	retrier := fetcher.NewRetrier(fetch, crawler.NewFixedRetryPolicy(cfg.HTTP.MaxRetries, cfg.HTTP.RetryDelay), logger)

	eng := engine.New(
		session,
		orc,
		retrier,
		persister.New(store, orc, o.clock, logger),
		dispatcher.New(dispatcher.Config{
			BatchSize:     cfg.Crawl.BatchSize,
			DispatchDelay: cfg.Crawl.DispatchDelay,
			PauseMin:      cfg.Crawl.PauseMin,
			PauseMax:      cfg.Crawl.PauseMax,
		}),
		hub,
		o.clock,
		engine.Config{
			IgnoredPaths: cfg.Crawl.IgnoredPaths,
			MaxURLLength: cfg.Crawl.MaxURLLength,
			IndexMarker:  cfg.Crawl.IndexMarker,
		},
		logger,
	)

	server := api.NewServer(session, func(ctx context.Context) error {
		_, err := store.URLExists(ctx, cfg.Crawl.BaseURL)
		return err
	}, o.clock, logger)

	logger.Info("crawler services initialized", zap.String("session_id", session.ID.String()))
	return &App{
		cfg:     cfg,
		logger:  logger,
		clock:   o.clock,
		store:   store,
		cache:   cache,
		session: session,
		oracle:  orc,
		engine:  eng,
		hub:     hub,
		server:  server,
	}, nil
}

// openCache returns a nil interface, never a typed nil, when caching is off.
func openCache(ctx context.Context, cfg config.CacheConfig) (crawler.URLCache, error) {
	switch cfg.Driver {
	case config.CacheRedis:
		c, err := rediscache.New(ctx, rediscache.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Key:      cfg.Key,
		})
		if err != nil {
			return nil, err //nolint:wrapcheck // wrapped by caller
		}
		return c, nil
	case config.CacheMemory:
		return memcache.New(), nil
	case config.CacheNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

func closeCache(cache crawler.URLCache, logger *zap.Logger) {
	if cache == nil {
		return
	}
	if err := cache.Close(); err != nil {
		logger.Warn("error closing cache", zap.Error(err))
	}
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the loaded configuration.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetSession returns the crawl session shared by every command step.
func (a *App) GetSession() *crawler.Session {
	return a.session
}

// GetStore exposes the durable page store.
func (a *App) GetStore() crawler.PageStore {
	return a.store
}

// Preload warms the cache and the local set from the durable store.
func (a *App) Preload(ctx context.Context) (oracle.PreloadStats, error) {
	stats, err := a.oracle.Preload(ctx)
	if err != nil {
		return stats, fmt.Errorf("preload cache: %w", err)
	}
	return stats, nil
}

// CrawlOptions override the crawl section for one run.
type CrawlOptions struct {
	SeedURL     string
	BaseURL     string
	FullCrawl   bool
	SkipPreload bool
}

// Crawl preloads the cache and traverses from the seed URL, appending failed
// fetch attempts to crawl.failure_log. A failed preload is logged and the
// crawl proceeds, since every existence check falls back to the store.
func (a *App) Crawl(ctx context.Context, opts CrawlOptions) error {
	since, err := a.cfg.Since()
	if err != nil {
		return err //nolint:wrapcheck // already descriptive
	}
	failures, err := failurelog.Open(a.cfg.Crawl.FailureLog)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}

	stop := a.startServer(ctx)
	defer stop()

	if !opts.SkipPreload {
		if _, err := a.Preload(ctx); err != nil {
			a.logger.Warn("preload failed, continuing", zap.Error(err))
		}
	}

	err = a.engine.Crawl(ctx, opts.SeedURL, engine.Options{
		BaseURL:   opts.BaseURL,
		FullCrawl: opts.FullCrawl,
		Since:     since,
		Failures:  failures,
	})
	if err != nil {
		return fmt.Errorf("crawl %s: %w", opts.SeedURL, err)
	}
	return nil
}

// Recover re-crawls the URLs listed in the failure log at from, writing new
// failures to the log at to. Batches are paced by a fixed
// crawl.recovery_pause with no dispatch delay.
func (a *App) Recover(ctx context.Context, from, to string) (engine.RecoverStats, error) {
	records, err := failurelog.ReadFile(from)
	if err != nil {
		return engine.RecoverStats{}, fmt.Errorf("read failure log: %w", err)
	}
	failures, err := failurelog.Open(to)
	if err != nil {
		return engine.RecoverStats{}, fmt.Errorf("open recovery log: %w", err)
	}
	since, err := a.cfg.Since()
	if err != nil {
		return engine.RecoverStats{}, err //nolint:wrapcheck // already descriptive
	}

	stop := a.startServer(ctx)
	defer stop()

	pacing := dispatcher.New(dispatcher.Config{
		BatchSize: a.cfg.Crawl.BatchSize,
		PauseMin:  a.cfg.Crawl.RecoveryPause,
		PauseMax:  a.cfg.Crawl.RecoveryPause,
	})
	stats, err := a.engine.Recover(ctx, failurelog.UniqueURLs(records), pacing, engine.Options{
		BaseURL:   a.cfg.Crawl.BaseURL,
		FullCrawl: a.cfg.Crawl.FullCrawl,
		Since:     since,
		Failures:  failures,
	})
	if err != nil {
		return stats, fmt.Errorf("recover from %s: %w", from, err)
	}
	return stats, nil
}

// startServer runs the status server when metrics.listen_addr is set and
// returns a function that stops it.
func (a *App) startServer(ctx context.Context) func() {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.server.ListenAndServe(srvCtx, addr); err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Close flushes progress sinks and releases the store and cache.
func (a *App) Close() {
	a.logger.Info("shutting down crawler services")
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("error closing progress hub", zap.Error(err))
	}
	closeCache(a.cache, a.logger)
	a.store.Close()
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
