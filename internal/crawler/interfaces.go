package crawler

import (
	"context"
	"time"
)

// Fetcher performs a single retrieval of a URL. Retries are layered on top.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// PageStore is the durable, authoritative record of captured pages.
type PageStore interface {
	// URLExists reports whether a row with exactly this URL exists.
	URLExists(ctx context.Context, url string) (bool, error)
	// DistinctURLs streams every distinct URL to fn in batches of batchSize.
	DistinctURLs(ctx context.Context, batchSize int, fn func(batch []string) error) error
	// InsertPage adds a new row and returns it as stored.
	InsertPage(ctx context.Context, page Page) (Page, error)
	// UpdatePage overwrites title, content and timestamp of the row for page.URL.
	// It returns ErrPageNotFound when no row matches.
	UpdatePage(ctx context.Context, page Page) (Page, error)
	Close()
}

// URLCache is the fast shared set of captured URLs.
type URLCache interface {
	IsMember(ctx context.Context, url string) (bool, error)
	Add(ctx context.Context, url string) error
	AddMany(ctx context.Context, urls []string) (int64, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// FailureRecorder appends failure records for a later recovery pass.
type FailureRecorder interface {
	Record(url string, cause error) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the UTC wall clock.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
