// Package persister writes captured documents to the durable store exactly
// once per URL, updating the existing row on later captures.
package persister

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

// Outcome reports what Persist did.
type Outcome int

// Persist outcomes.
const (
	Failed Outcome = iota
	Inserted
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "failed"
	}
}

// Oracle is the subset of the existence check the persister needs. Captured
// must not apply the index-URL bypass: a document whose URL happens to
// contain the index marker still has exactly one row.
type Oracle interface {
	Captured(ctx context.Context, url string) bool
	MarkCaptured(ctx context.Context, url string)
}

// Persister inserts new pages and updates known ones.
type Persister struct {
	store  crawler.PageStore
	oracle Oracle
	clock  crawler.Clock
	logger *zap.Logger
}

// New builds a Persister. A nil clock uses crawler.SystemClock.
func New(store crawler.PageStore, oracle Oracle, clock crawler.Clock, logger *zap.Logger) *Persister {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{store: store, oracle: oracle, clock: clock, logger: logger.Named("persister")}
}

// Persist stores a document. URLs the oracle reports as new are inserted and
// then marked captured; all others are updated in place. A failed insert
// leaves every tier untouched. An update that matches no row falls back to
// an insert, which covers a cache entry that outlived its row.
func (p *Persister) Persist(ctx context.Context, title, url, content string) (Outcome, error) {
	page := crawler.Page{Title: title, URL: url, Content: content, CapturedAt: p.clock.Now()}

	if !p.oracle.Captured(ctx, url) {
		return p.insert(ctx, page)
	}

	if _, err := p.store.UpdatePage(ctx, page); err != nil {
		if errors.Is(err, crawler.ErrPageNotFound) {
			p.logger.Warn("known url has no row, inserting", zap.String("url", url))
			return p.insert(ctx, page)
		}
		return Failed, fmt.Errorf("update %s: %w", url, err)
	}
	p.logger.Debug("page updated", zap.String("url", url))
	return Updated, nil
}

func (p *Persister) insert(ctx context.Context, page crawler.Page) (Outcome, error) {
	if _, err := p.store.InsertPage(ctx, page); err != nil {
		return Failed, fmt.Errorf("insert %s: %w", page.URL, err)
	}
	p.oracle.MarkCaptured(ctx, page.URL)
	p.logger.Debug("page inserted", zap.String("url", page.URL))
	return Inserted, nil
}
