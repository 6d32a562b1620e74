package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	memcache "github.com/DavidLozzi/starwars-graph/internal/cache/memory"
	"github.com/DavidLozzi/starwars-graph/internal/crawler"
	"github.com/DavidLozzi/starwars-graph/internal/dispatcher"
	"github.com/DavidLozzi/starwars-graph/internal/fetcher"
	"github.com/DavidLozzi/starwars-graph/internal/oracle"
	"github.com/DavidLozzi/starwars-graph/internal/persister"
	"github.com/DavidLozzi/starwars-graph/internal/progress"
	"github.com/DavidLozzi/starwars-graph/internal/storage/memory"
)

const base = "https://site.com/"

type page struct {
	kind crawler.DocumentKind
	body string
	err  error
}

// fakeFetcher serves canned pages and counts requests per URL.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]page
	calls map[string]int
}

func newFakeFetcher(pages map[string]page) *fakeFetcher {
	return &fakeFetcher{pages: pages, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (crawler.FetchResponse, error) {
	f.mu.Lock()
	f.calls[url]++
	p, ok := f.pages[url]
	f.mu.Unlock()
	if !ok {
		return crawler.FetchResponse{}, &crawler.StatusError{URL: url, StatusCode: 404}
	}
	if p.err != nil {
		return crawler.FetchResponse{}, p.err
	}
	contentType := "text/html; charset=utf-8"
	if p.kind == crawler.KindIndex {
		contentType = "application/xml"
	}
	return crawler.FetchResponse{
		URL:         url,
		FinalURL:    url,
		StatusCode:  200,
		ContentType: contentType,
		Kind:        p.kind,
		Body:        []byte(p.body),
	}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type failureRecorder struct {
	mu   sync.Mutex
	urls []string
}

func (r *failureRecorder) Record(url string, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return nil
}

func (r *failureRecorder) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

type collectingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *collectingEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectingEmitter) stages() map[progress.Stage]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[progress.Stage]int)
	for _, evt := range c.events {
		out[evt.Stage]++
	}
	return out
}

type harness struct {
	engine  *Engine
	session *crawler.Session
	store   *memory.PageStore
	fetcher *fakeFetcher
	events  *collectingEmitter
}

func newHarness(t *testing.T, pages map[string]page) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	session := crawler.NewSession(nil)
	store := memory.NewPageStore()
	orc := oracle.New(session, memcache.New(), store, oracle.Config{}, logger)
	fetch := newFakeFetcher(pages)
	retrier := fetcher.NewRetrier(fetch, crawler.NewFixedRetryPolicy(crawler.DefaultMaxRetries, 0), logger)
	events := &collectingEmitter{}
	eng := New(
		session,
		orc,
		retrier,
		persister.New(store, orc, nil, logger),
		dispatcher.New(dispatcher.Config{BatchSize: dispatcher.DefaultBatchSize}),
		events,
		nil,
		Config{IgnoredPaths: crawler.DefaultIgnoredPaths},
		logger,
	)
	return &harness{engine: eng, session: session, store: store, fetcher: fetch, events: events}
}

func urlset(locs ...string) string {
	body := `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, loc := range locs {
		body += fmt.Sprintf("<url><loc>%s</loc><lastmod>2030-01-01</lastmod></url>", loc)
	}
	return body + "</urlset>"
}

func article(title string) string {
	return fmt.Sprintf(`<html><body><h1 id="firstHeading">%s</h1><p>text</p></body></html>`, title)
}

func urlsOf(rows []crawler.Page) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.URL)
	}
	return out
}

func TestCrawlTraversesIndexesAndStoresDocuments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]page{
		base + "sitemap.xml": {kind: crawler.KindIndex, body: urlset(
			base+"sitemap-1.xml",
			base+"wiki/Luke",
			base+"sitemap.xml",
			"https://other.com/wiki/Vader",
			base+"wiki/Special:Random",
		)},
		base + "sitemap-1.xml": {kind: crawler.KindIndex, body: urlset(
			base+"wiki/Leia?action=history",
			base+"wiki/User:Someone",
		)},
		base + "wiki/Luke": {kind: crawler.KindDocument, body: article("Luke")},
		base + "wiki/Leia": {kind: crawler.KindDocument, body: article("Leia")},
	})

	err := h.engine.Crawl(context.Background(), base+"sitemap.xml", Options{BaseURL: base, FullCrawl: true})
	require.NoError(t, err)

	rows := h.store.Rows()
	assert.ElementsMatch(t, []string{base + "wiki/Luke", base + "wiki/Leia"}, urlsOf(rows))
	for _, row := range rows {
		assert.NotEqual(t, crawler.NoTitle, row.Title)
		assert.Contains(t, row.Content, "<p>text</p>")
	}

	snap := h.session.Snapshot()
	assert.Equal(t, int64(2), snap.Processed)
	assert.Equal(t, int64(2), snap.Added)
	assert.Equal(t, int64(4), snap.Skipped)
	assert.Zero(t, snap.Failed)

	assert.Zero(t, h.fetcher.count("https://other.com/wiki/Vader"))
	assert.Zero(t, h.fetcher.count(base+"wiki/Special:Random"))
	assert.Equal(t, 1, h.fetcher.count(base+"sitemap.xml"))

	stages := h.events.stages()
	assert.Equal(t, 1, stages[progress.StageCrawlStart])
	assert.Equal(t, 1, stages[progress.StageCrawlDone])
	assert.Equal(t, 2, stages[progress.StagePageAdded])
	assert.Equal(t, 4, stages[progress.StageLinkSkipped])
	assert.Equal(t, 4, stages[progress.StageFetchDone])
}

func TestCrawlIncrementalSkipsStaleEntries(t *testing.T) {
	t.Parallel()

	index := `<urlset>` +
		`<url><loc>` + base + `wiki/Old</loc><lastmod>2020-01-01</lastmod></url>` +
		`<url><loc>` + base + `wiki/New</loc><lastmod>2030-01-01T10:00:00Z</lastmod></url>` +
		`</urlset>`
	h := newHarness(t, map[string]page{
		base + "sitemap.xml": {kind: crawler.KindIndex, body: index},
		base + "wiki/Old":    {kind: crawler.KindDocument, body: article("Old")},
		base + "wiki/New":    {kind: crawler.KindDocument, body: article("New")},
	})

	require.NoError(t, h.engine.Crawl(context.Background(), base+"sitemap.xml", Options{BaseURL: base}))

	assert.Equal(t, []string{base + "wiki/New"}, urlsOf(h.store.Rows()))
	assert.Zero(t, h.fetcher.count(base+"wiki/Old"))
}

func TestCrawlFailedFetchRecordsEveryAttempt(t *testing.T) {
	t.Parallel()

	failing := base + "wiki/Broken"
	h := newHarness(t, map[string]page{
		base + "sitemap.xml": {kind: crawler.KindIndex, body: urlset(failing)},
		failing:              {err: errors.New("connection reset")},
	})
	failures := &failureRecorder{}

	err := h.engine.Crawl(context.Background(), base+"sitemap.xml", Options{
		BaseURL:   base,
		FullCrawl: true,
		Failures:  failures,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{failing, failing, failing}, failures.recorded())
	assert.Equal(t, 3, h.fetcher.count(failing))
	assert.Empty(t, h.store.Rows())

	snap := h.session.Snapshot()
	assert.Equal(t, int64(1), snap.Failed)
	assert.Zero(t, snap.Processed)
	assert.Equal(t, 1, h.events.stages()[progress.StageFetchFailed])
}

func TestCrawlSkipsCapturedDocuments(t *testing.T) {
	t.Parallel()

	known := base + "wiki/Han"
	h := newHarness(t, map[string]page{
		base + "sitemap.xml": {kind: crawler.KindIndex, body: urlset(known, base+"wiki/Chewie")},
		known:                {kind: crawler.KindDocument, body: article("Han")},
		base + "wiki/Chewie": {kind: crawler.KindDocument, body: article("Chewie")},
	})
	_, err := h.store.InsertPage(context.Background(), crawler.Page{Title: "Han", URL: known, CapturedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, h.engine.Crawl(context.Background(), base+"sitemap.xml", Options{BaseURL: base, FullCrawl: true}))

	assert.Zero(t, h.fetcher.count(known))
	assert.Len(t, h.store.Rows(), 2)

	snap := h.session.Snapshot()
	assert.Equal(t, int64(1), snap.Deduped)
	assert.Equal(t, int64(1), snap.Added)
	assert.Equal(t, 1, h.events.stages()[progress.StageDeduped])
}

func TestRecrawlRefetchesIndexesButNotDocuments(t *testing.T) {
	t.Parallel()

	shared := base + "wiki/Yoda"
	h := newHarness(t, map[string]page{
		base + "sitemap.xml": {kind: crawler.KindIndex, body: urlset(shared)},
		shared:               {kind: crawler.KindDocument, body: article("Yoda")},
	})
	opts := Options{BaseURL: base, FullCrawl: true}

	require.NoError(t, h.engine.Crawl(context.Background(), base+"sitemap.xml", opts))
	require.NoError(t, h.engine.Crawl(context.Background(), base+"sitemap.xml", opts))

	assert.Equal(t, 2, h.fetcher.count(base+"sitemap.xml"))
	assert.Equal(t, 1, h.fetcher.count(shared))
	assert.Len(t, h.store.Rows(), 1)
	assert.Equal(t, int64(1), h.session.Snapshot().Deduped)
}

func TestCrawlBrokenIndexStoresNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]page{
		base + "sitemap.xml": {kind: crawler.KindIndex, body: "<urlset><url>"},
	})

	require.NoError(t, h.engine.Crawl(context.Background(), base+"sitemap.xml", Options{BaseURL: base, FullCrawl: true}))
	assert.Empty(t, h.store.Rows())
}

func TestCrawlCanceledContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]page{
		base + "sitemap.xml": {kind: crawler.KindIndex, body: urlset(base + "wiki/Luke")},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.engine.Crawl(ctx, base+"sitemap.xml", Options{BaseURL: base})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.fetcher.count(base+"sitemap.xml"))

	stages := h.events.stages()
	assert.Equal(t, 1, stages[progress.StageCrawlStart])
	assert.Equal(t, 1, stages[progress.StageCrawlDone])
}

func TestEventsCarrySessionAndPassValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]page{
		base + "sitemap.xml": {kind: crawler.KindIndex, body: urlset(base+"wiki/Luke", "https://other.com/x")},
		base + "wiki/Luke":   {kind: crawler.KindDocument, body: article("Luke")},
	})
	require.NoError(t, h.engine.Crawl(context.Background(), base+"sitemap.xml", Options{BaseURL: base, FullCrawl: true}))

	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	require.NotEmpty(t, h.events.events)
	for _, evt := range h.events.events {
		assert.Equal(t, h.session.ID, evt.SessionUUID())
		assert.NoError(t, evt.Validate(), "stage %s", evt.Stage)
	}
}
