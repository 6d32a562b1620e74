package crawler

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// visitTracker records URLs this process has already confirmed as captured.
type visitTracker interface {
	Contains(url string) bool
	Mark(url string) bool
	Len() int64
}

type concurrentVisitTracker struct {
	seen sync.Map
	size atomic.Int64
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

func (t *concurrentVisitTracker) Contains(url string) bool {
	_, ok := t.seen.Load(url)
	return ok
}

// Mark stores the URL and returns true when it was not present before.
func (t *concurrentVisitTracker) Mark(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	if !loaded {
		t.size.Add(1)
	}
	return !loaded
}

func (t *concurrentVisitTracker) Len() int64 {
	return t.size.Load()
}

// Pause blocks for delay or until ctx is done, whichever comes first.
func Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Jitter returns a uniformly random duration in [lo, hi].
func Jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
