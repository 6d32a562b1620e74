package persister

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidLozzi/starwars-graph/internal/cache/memory"
	"github.com/DavidLozzi/starwars-graph/internal/crawler"
	"github.com/DavidLozzi/starwars-graph/internal/oracle"
	memstore "github.com/DavidLozzi/starwars-graph/internal/storage/memory"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type failingInsertStore struct {
	*memstore.PageStore
}

func (failingInsertStore) InsertPage(context.Context, crawler.Page) (crawler.Page, error) {
	return crawler.Page{}, errors.New("unique violation")
}

func newPersister(store crawler.PageStore) (*Persister, *crawler.Session, *memory.Cache) {
	session := crawler.NewSession(nil)
	cache := memory.New()
	o := oracle.New(session, cache, store, oracle.Config{}, nil)
	clock := &stepClock{t: time.Date(2024, 4, 22, 0, 0, 0, 0, time.UTC)}
	return New(store, o, clock, nil), session, cache
}

func TestPersistTwiceKeepsOneRowWithLatestContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.NewPageStore()
	p, session, cache := newPersister(store)

	out, err := p.Persist(ctx, "Foo", "https://site.com/wiki/Foo", "<body>1</body>")
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
	assert.True(t, session.Known("https://site.com/wiki/Foo"))
	inCache, _ := cache.IsMember(ctx, "https://site.com/wiki/Foo")
	assert.True(t, inCache)

	out, err = p.Persist(ctx, "Foo v2", "https://site.com/wiki/Foo", "<body>2</body>")
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	rows := store.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Foo v2", rows[0].Title)
	assert.Equal(t, "<body>2</body>", rows[0].Content)
	assert.Equal(t, time.Date(2024, 4, 22, 0, 0, 2, 0, time.UTC), rows[0].CapturedAt)
}

func TestPersistInsertFailureDoesNotMark(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, session, cache := newPersister(failingInsertStore{memstore.NewPageStore()})

	out, err := p.Persist(ctx, "Foo", "https://site.com/wiki/Foo", "x")
	require.Error(t, err)
	assert.Equal(t, Failed, out)
	assert.False(t, session.Known("https://site.com/wiki/Foo"))
	n, _ := cache.Count(ctx)
	assert.Zero(t, n)
}

func TestPersistStaleCacheEntryFallsBackToInsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.NewPageStore()
	p, _, cache := newPersister(store)
	require.NoError(t, cache.Add(ctx, "https://site.com/wiki/Foo"))

	out, err := p.Persist(ctx, "Foo", "https://site.com/wiki/Foo", "x")
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
	assert.Len(t, store.Rows(), 1)
}

func TestPersistDocumentWithIndexMarkerInURLIsUpdated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memstore.NewPageStore()
	p, _, _ := newPersister(store)
	url := "https://site.com/wiki/Config.xml_format"

	out, err := p.Persist(ctx, "Config", url, "<body>1</body>")
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)

	out, err = p.Persist(ctx, "Config v2", url, "<body>2</body>")
	require.NoError(t, err)
	assert.Equal(t, Updated, out)

	rows := store.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Config v2", rows[0].Title)
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "failed", Failed.String())
}
