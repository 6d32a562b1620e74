package crawler

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Counters is a point-in-time copy of a session's progress.
type Counters struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	Processed int64     `json:"processed"`
	Added     int64     `json:"added"`
	Updated   int64     `json:"updated"`
	Skipped   int64     `json:"skipped"`
	Deduped   int64     `json:"deduped"`
	Failed    int64     `json:"failed"`
	Known     int64     `json:"known_urls"`
}

// Elapsed returns the time between the session start and now.
func (c Counters) Elapsed(now time.Time) time.Duration {
	return now.Sub(c.StartedAt)
}

// PagesPerSecond averages processed documents over the elapsed time.
func (c Counters) PagesPerSecond(now time.Time) float64 {
	secs := c.Elapsed(now).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(c.Processed) / secs
}

// Session holds the state of one crawl run: the local set of captured URLs
// and the progress counters. It is safe for concurrent use.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	seen visitTracker

	processed atomic.Int64
	added     atomic.Int64
	updated   atomic.Int64
	skipped   atomic.Int64
	deduped   atomic.Int64
	failed    atomic.Int64
}

// NewSession starts a session timed by clock. A nil clock uses SystemClock.
func NewSession(clock Clock) *Session {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Session{
		ID:        uuid.New(),
		StartedAt: clock.Now(),
		seen:      newConcurrentVisitTracker(),
	}
}

// Known reports whether url is in the local set.
func (s *Session) Known(url string) bool {
	return s.seen.Contains(url)
}

// Remember adds url to the local set.
func (s *Session) Remember(url string) {
	s.seen.Mark(url)
}

// KnownCount returns the size of the local set.
func (s *Session) KnownCount() int64 {
	return s.seen.Len()
}

func (s *Session) IncProcessed() { s.processed.Add(1) }
func (s *Session) IncAdded()     { s.added.Add(1) }
func (s *Session) IncUpdated()   { s.updated.Add(1) }
func (s *Session) IncSkipped()   { s.skipped.Add(1) }
func (s *Session) IncFailed()    { s.failed.Add(1) }

// IncDeduped counts a URL dropped by the existence check. Deduped URLs are
// also counted as skipped.
func (s *Session) IncDeduped() {
	s.deduped.Add(1)
	s.skipped.Add(1)
}

// Snapshot copies the current counters.
func (s *Session) Snapshot() Counters {
	return Counters{
		SessionID: s.ID.String(),
		StartedAt: s.StartedAt,
		Processed: s.processed.Load(),
		Added:     s.added.Load(),
		Updated:   s.updated.Load(),
		Skipped:   s.skipped.Load(),
		Deduped:   s.deduped.Load(),
		Failed:    s.failed.Load(),
		Known:     s.seen.Len(),
	}
}
