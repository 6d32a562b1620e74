// Package memory keeps captured pages in process memory for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/DavidLozzi/starwars-graph/internal/crawler"
)

// PageStore mirrors the all_data table in memory. Like the table it does not
// enforce URL uniqueness; the persister is responsible for that.
type PageStore struct {
	mu   sync.RWMutex
	rows []crawler.Page
}

// NewPageStore constructs an empty PageStore.
func NewPageStore() *PageStore {
	return &PageStore{}
}

// URLExists reports whether any row has url.
func (s *PageStore) URLExists(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row.URL == url {
			return true, nil
		}
	}
	return false, nil
}

// DistinctURLs streams distinct URLs in lexical order.
func (s *PageStore) DistinctURLs(_ context.Context, batchSize int, fn func([]string) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	s.mu.RLock()
	seen := make(map[string]struct{}, len(s.rows))
	urls := make([]string, 0, len(s.rows))
	for _, row := range s.rows {
		if _, ok := seen[row.URL]; ok {
			continue
		}
		seen[row.URL] = struct{}{}
		urls = append(urls, row.URL)
	}
	s.mu.RUnlock()
	sort.Strings(urls)

	for start := 0; start < len(urls); start += batchSize {
		end := min(start+batchSize, len(urls))
		if err := fn(urls[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// InsertPage appends a row.
func (s *PageStore) InsertPage(_ context.Context, page crawler.Page) (crawler.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, page)
	return page, nil
}

// UpdatePage overwrites every row matching page.URL.
func (s *PageStore) UpdatePage(_ context.Context, page crawler.Page) (crawler.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := false
	for i := range s.rows {
		if s.rows[i].URL != page.URL {
			continue
		}
		s.rows[i].Title = page.Title
		s.rows[i].Content = page.Content
		s.rows[i].CapturedAt = page.CapturedAt
		updated = true
	}
	if !updated {
		return crawler.Page{}, crawler.ErrPageNotFound
	}
	return page, nil
}

// Rows returns a copy of every stored row in insertion order.
func (s *PageStore) Rows() []crawler.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Page(nil), s.rows...)
}

// Close is a no-op.
func (s *PageStore) Close() {}
