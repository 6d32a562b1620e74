// Package progress defines the event structures emitted during a crawl.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart  Stage = "CRAWL_START"
	StageCrawlDone   Stage = "CRAWL_DONE"
	StageFetchDone   Stage = "FETCH_DONE"
	StageFetchFailed Stage = "FETCH_FAILED"
	StagePageAdded   Stage = "PAGE_ADDED"
	StagePageUpdated Stage = "PAGE_UPDATED"
	StagePageFailed  Stage = "PAGE_FAILED"
	StageLinkSkipped Stage = "LINK_SKIPPED"
	StageDeduped     Stage = "DEDUPED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawler progress.
type Event struct {
	// SessionID identifies the crawl session using the 16-byte UUID form.
	SessionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Site optionally scopes fetch events to a host label.
	Site string
	// URL is the page the event refers to.
	URL string
	// Bytes carries the response size for fetch completions.
	Bytes int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	// Dur captures fetch latency or total crawl time.
	Dur time.Duration
	// Note carries the skip reason or error text.
	Note string
}

// ErrInvalidEvent wraps every Validate failure.
var ErrInvalidEvent = errors.New("invalid progress event")

// stageFields lists, per stage, the optional fields that stage must carry.
var stageFields = map[Stage][]string{
	StageCrawlStart:  nil,
	StageCrawlDone:   nil,
	StageFetchDone:   {"site", "status class"},
	StageFetchFailed: {"site"},
	StagePageAdded:   nil,
	StagePageUpdated: nil,
	StagePageFailed:  nil,
	StageLinkSkipped: {"note"},
	StageDeduped:     nil,
}

// Validate checks that the event names a session, a timestamp, a known stage
// and the fields that stage requires.
func (e Event) Validate() error {
	switch {
	case e.SessionID == [16]byte{}:
		return fmt.Errorf("%w: session id is required", ErrInvalidEvent)
	case e.TS.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	case e.Dur < 0:
		return fmt.Errorf("%w: duration must be >= 0", ErrInvalidEvent)
	}
	fields, known := stageFields[e.Stage]
	if !known {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidEvent, e.Stage)
	}
	for _, field := range fields {
		if e.field(field) == "" {
			return fmt.Errorf("%w: %s requires %s", ErrInvalidEvent, e.Stage, field)
		}
	}
	return nil
}

func (e Event) field(name string) string {
	switch name {
	case "site":
		return e.Site
	case "status class":
		return string(e.StatusClass)
	case "note":
		return e.Note
	default:
		return ""
	}
}

// SessionUUID converts the binary session ID to uuid.UUID.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
