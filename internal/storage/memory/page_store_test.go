package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

func TestPageStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	ctx := context.Background()
	page := crawler.Page{Title: "Foo", URL: "https://site.com/wiki/Foo", Content: "a", CapturedAt: time.Unix(1, 0)}

	if ok, _ := store.URLExists(ctx, page.URL); ok {
		t.Fatal("expected empty store")
	}
	if _, err := store.UpdatePage(ctx, page); !errors.Is(err, crawler.ErrPageNotFound) {
		t.Fatalf("UpdatePage() error = %v, want ErrPageNotFound", err)
	}
	if _, err := store.InsertPage(ctx, page); err != nil {
		t.Fatalf("InsertPage() error = %v", err)
	}
	if ok, _ := store.URLExists(ctx, page.URL); !ok {
		t.Fatal("expected url to exist after insert")
	}

	page.Title = "Foo v2"
	if _, err := store.UpdatePage(ctx, page); err != nil {
		t.Fatalf("UpdatePage() error = %v", err)
	}
	rows := store.Rows()
	if len(rows) != 1 || rows[0].Title != "Foo v2" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	rows[0].Title = "modified"
	if store.Rows()[0].Title != "Foo v2" {
		t.Fatal("expected Rows to return a copy")
	}
}

func TestPageStoreDistinctURLs(t *testing.T) {
	t.Parallel()

	store := NewPageStore()
	ctx := context.Background()
	for _, u := range []string{"c", "a", "b", "a"} {
		if _, err := store.InsertPage(ctx, crawler.Page{URL: u}); err != nil {
			t.Fatal(err)
		}
	}

	var got [][]string
	err := store.DistinctURLs(ctx, 2, func(batch []string) error {
		got = append(got, append([]string(nil), batch...))
		return nil
	})
	if err != nil {
		t.Fatalf("DistinctURLs() error = %v", err)
	}
	if len(got) != 2 || len(got[0]) != 2 || got[0][0] != "a" || got[1][0] != "c" {
		t.Fatalf("unexpected batches: %v", got)
	}

	stop := errors.New("stop")
	if err := store.DistinctURLs(ctx, 1, func([]string) error { return stop }); !errors.Is(err, stop) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
}
