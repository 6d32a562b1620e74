// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DocumentKind classifies a fetched response by its declared content type.
type DocumentKind string

// Supported document kinds.
const (
	// KindIndex is a structured link index (sitemap or sitemap index).
	KindIndex DocumentKind = "index"
	// KindDocument is a human-readable page.
	KindDocument DocumentKind = "document"
)

// NoTitle is stored when a document has no primary heading.
const NoTitle = "No title"

var (
	// ErrInvalidURL marks URLs that can never be fetched; they are not retried.
	ErrInvalidURL = errors.New("invalid url")
	// ErrPageNotFound signals that no captured page exists for a URL.
	ErrPageNotFound = errors.New("page not found")
)

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Kind        DocumentKind
	Headers     http.Header
	Body        []byte
	// Truncated is set when Body reached the fetcher's size limit.
	Truncated bool
	Duration  time.Duration
}

// Page is a captured document as persisted in the all_data table.
type Page struct {
	Title      string    `db:"title"`
	URL        string    `db:"url"`
	Content    string    `db:"content"`
	CapturedAt time.Time `db:"last_ingested"`
}

// StatusError reports a response whose status code is not 2xx.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %d", e.URL, e.StatusCode)
}

// ClassifyContentType maps a Content-Type header to a DocumentKind. The
// boolean is false when the type was not recognized and the default
// (KindDocument) was applied.
func ClassifyContentType(contentType string) (DocumentKind, bool) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "xml"):
		return KindIndex, true
	case strings.Contains(ct, "html"):
		return KindDocument, true
	default:
		return KindDocument, false
	}
}
