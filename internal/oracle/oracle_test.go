package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLozzi/starwars-graph/internal/cache/memory"
	"github.com/DavidLozzi/starwars-graph/internal/crawler"
	memstore "github.com/DavidLozzi/starwars-graph/internal/storage/memory"
)

type countingCache struct {
	*memory.Cache
	mu      sync.Mutex
	lookups int
	fail    error
}

func (c *countingCache) IsMember(ctx context.Context, url string) (bool, error) {
	c.mu.Lock()
	c.lookups++
	c.mu.Unlock()
	if c.fail != nil {
		return false, c.fail
	}
	return c.Cache.IsMember(ctx, url)
}

func (c *countingCache) Add(ctx context.Context, url string) error {
	if c.fail != nil {
		return c.fail
	}
	return c.Cache.Add(ctx, url)
}

type countingStore struct {
	*memstore.PageStore
	mu      sync.Mutex
	lookups int
	fail    error
}

func (s *countingStore) URLExists(ctx context.Context, url string) (bool, error) {
	s.mu.Lock()
	s.lookups++
	s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	return s.PageStore.URLExists(ctx, url)
}

type fixture struct {
	session *crawler.Session
	cache   *countingCache
	store   *countingStore
	oracle  *Oracle
}

func newFixture() *fixture {
	f := &fixture{
		session: crawler.NewSession(nil),
		cache:   &countingCache{Cache: memory.New()},
		store:   &countingStore{PageStore: memstore.NewPageStore()},
	}
	f.oracle = New(f.session, f.cache, f.store, Config{PreloadBatchSize: 2}, nil)
	return f
}

func TestExistsLocalHitSkipsOtherTiers(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.session.Remember("https://site.com/wiki/Foo")

	require.True(t, f.oracle.Exists(context.Background(), "https://site.com/wiki/Foo"))
	assert.Zero(t, f.cache.lookups)
	assert.Zero(t, f.store.lookups)
}

func TestExistsCacheHitPromotesToLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.cache.Cache.Add(ctx, "https://site.com/wiki/Foo"))

	require.True(t, f.oracle.Exists(ctx, "https://site.com/wiki/Foo"))
	assert.Equal(t, 1, f.cache.lookups)
	assert.Zero(t, f.store.lookups)
	assert.True(t, f.session.Known("https://site.com/wiki/Foo"))

	require.True(t, f.oracle.Exists(ctx, "https://site.com/wiki/Foo"))
	assert.Equal(t, 1, f.cache.lookups, "second lookup is answered locally")
}

func TestExistsStoreHitPromotesToCacheAndLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	_, err := f.store.InsertPage(ctx, crawler.Page{URL: "https://site.com/wiki/Foo"})
	require.NoError(t, err)

	require.True(t, f.oracle.Exists(ctx, "https://site.com/wiki/Foo"))
	assert.Equal(t, 1, f.store.lookups)
	assert.True(t, f.session.Known("https://site.com/wiki/Foo"))
	inCache, _ := f.cache.Cache.IsMember(ctx, "https://site.com/wiki/Foo")
	assert.True(t, inCache)
}

func TestExistsMissEverywhere(t *testing.T) {
	t.Parallel()
	f := newFixture()

	require.False(t, f.oracle.Exists(context.Background(), "https://site.com/wiki/New"))
	assert.Equal(t, 1, f.cache.lookups)
	assert.Equal(t, 1, f.store.lookups)
	assert.False(t, f.session.Known("https://site.com/wiki/New"))
}

func TestExistsIndexURLBypassesAllTiers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	url := "https://site.com/sitemap-newsitemapxml-index.xml"
	f.session.Remember(url)
	require.NoError(t, f.cache.Cache.Add(ctx, url))

	require.False(t, f.oracle.Exists(ctx, url))
	assert.Zero(t, f.cache.lookups)
	assert.Zero(t, f.store.lookups)
}

func TestCapturedIgnoresIndexMarker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	url := "https://site.com/wiki/Config.xml_format"
	_, err := f.store.InsertPage(ctx, crawler.Page{URL: url})
	require.NoError(t, err)

	assert.False(t, f.oracle.Exists(ctx, url))
	assert.True(t, f.oracle.Captured(ctx, url))
	assert.True(t, f.session.Known(url))
	inCache, err := f.cache.IsMember(ctx, url)
	require.NoError(t, err)
	assert.True(t, inCache)
}

func TestExistsCacheErrorFallsThroughToStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	f.cache.fail = errors.New("redis down")
	_, err := f.store.InsertPage(ctx, crawler.Page{URL: "https://site.com/wiki/Foo"})
	require.NoError(t, err)

	require.True(t, f.oracle.Exists(ctx, "https://site.com/wiki/Foo"))
	assert.Equal(t, 1, f.store.lookups)
	assert.True(t, f.session.Known("https://site.com/wiki/Foo"))
}

func TestExistsStoreErrorAnswersFalse(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.store.fail = errors.New("connection refused")

	require.False(t, f.oracle.Exists(context.Background(), "https://site.com/wiki/Foo"))
}

func TestExistsWithoutCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	session := crawler.NewSession(nil)
	store := memstore.NewPageStore()
	o := New(session, nil, store, Config{}, nil)

	_, err := store.InsertPage(ctx, crawler.Page{URL: "https://site.com/wiki/Foo"})
	require.NoError(t, err)
	require.True(t, o.Exists(ctx, "https://site.com/wiki/Foo"))
	o.MarkCaptured(ctx, "https://site.com/wiki/Bar")
	require.True(t, session.Known("https://site.com/wiki/Bar"))
}

func TestMarkCapturedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()

	f.oracle.MarkCaptured(ctx, "https://site.com/wiki/Foo")
	f.oracle.MarkCaptured(ctx, "https://site.com/wiki/Foo")

	n, err := f.cache.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.EqualValues(t, 1, f.session.KnownCount())
}

func TestMarkCapturedCacheFailureStillUpdatesLocal(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.cache.fail = errors.New("redis down")

	f.oracle.MarkCaptured(context.Background(), "https://site.com/wiki/Foo")
	assert.True(t, f.session.Known("https://site.com/wiki/Foo"))
}

func TestPreloadCopiesStoreIntoCacheAndLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	for _, u := range []string{"a", "b", "c", "a"} {
		_, err := f.store.InsertPage(ctx, crawler.Page{URL: "https://site.com/" + u})
		require.NoError(t, err)
	}
	require.NoError(t, f.cache.Cache.Add(ctx, "https://site.com/a"))

	stats, err := f.oracle.Preload(ctx)
	require.NoError(t, err)
	assert.Equal(t, PreloadStats{CachedBefore: 1, CachedAfter: 3, Read: 3, Added: 2, Batches: 2}, stats)
	assert.EqualValues(t, 3, f.session.KnownCount())
}

func TestPreloadSurfacesCacheErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture()
	_, err := f.store.InsertPage(ctx, crawler.Page{URL: "https://site.com/a"})
	require.NoError(t, err)

	f.oracle.cache = failingBulkCache{f.cache}
	_, err = f.oracle.Preload(ctx)
	require.Error(t, err)
}

type failingBulkCache struct{ crawler.URLCache }

func (failingBulkCache) AddMany(context.Context, []string) (int64, error) {
	return 0, errors.New("pipeline broken")
}
