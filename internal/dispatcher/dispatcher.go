// Package dispatcher fans a list of URLs out to concurrent visits in fixed
// size batches, pausing between batches.
package dispatcher

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
	"github.com/DavidLozzi/starwars-graph/internal/metrics"
)

// Defaults for Config.
const (
	DefaultBatchSize     = 15
	DefaultDispatchDelay = 10 * time.Millisecond
	DefaultPauseMin      = 300 * time.Millisecond
	DefaultPauseMax      = 600 * time.Millisecond
)

// Config controls batching and pacing.
type Config struct {
	BatchSize int
	// DispatchDelay is waited before each visit is started.
	DispatchDelay time.Duration
	// PauseMin and PauseMax bound the uniform random pause after every full
	// batch. Equal values give a fixed pause.
	PauseMin time.Duration
	PauseMax time.Duration
}

// VisitFunc processes one URL. It handles its own errors.
type VisitFunc func(ctx context.Context, url string)

// Dispatcher runs visits in sequential batches. Visits within a batch run
// concurrently and the batch fully settles before the next one starts.
type Dispatcher struct {
	cfg    Config
	pause  func(context.Context, time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
}

// DefaultConfig returns the crawl pacing: batches of 15, 10ms between
// dispatches and a 300-600ms pause after each full batch.
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		DispatchDelay: DefaultDispatchDelay,
		PauseMin:      DefaultPauseMin,
		PauseMax:      DefaultPauseMax,
	}
}

// New builds a Dispatcher. A non-positive batch size takes the default; zero
// delays and pauses are honored as given.
func New(cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DispatchDelay < 0 {
		cfg.DispatchDelay = 0
	}
	if cfg.PauseMax < cfg.PauseMin {
		cfg.PauseMax = cfg.PauseMin
	}
	return &Dispatcher{
		cfg:    cfg,
		pause:  crawler.Pause,
		jitter: crawler.Jitter,
	}
}

// Run visits every item. Each visit starts as soon as it is dispatched, after
// the dispatch delay; once a batch has been dispatched Run waits for all of
// its visits and only then pauses. It returns ctx.Err() when cancelled
// between dispatches; visits already started are always awaited first.
func (d *Dispatcher) Run(ctx context.Context, items []string, visit VisitFunc) error {
	g := new(errgroup.Group)
	inBatch := 0
	for _, item := range items {
		if err := d.pause(ctx, d.cfg.DispatchDelay); err != nil {
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			visit(ctx, item)
			return nil
		})
		inBatch++
		if inBatch < d.cfg.BatchSize {
			continue
		}

		_ = g.Wait()
		g = new(errgroup.Group)
		inBatch = 0
		wait := d.jitter(d.cfg.PauseMin, d.cfg.PauseMax)
		metrics.ObserveBatch(true, wait)
		if err := d.pause(ctx, wait); err != nil {
			return err
		}
	}
	if inBatch > 0 {
		_ = g.Wait()
		metrics.ObserveBatch(false, 0)
	}
	return nil
}
