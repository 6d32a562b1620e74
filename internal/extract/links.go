package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
)

// DefaultSince is the incremental-crawl threshold used when none is configured.
var DefaultSince = time.Date(2024, time.April, 22, 0, 0, 0, 0, time.UTC)

// ErrMalformedIndex is returned when an index body is not parseable XML.
var ErrMalformedIndex = errors.New("malformed index")

const (
	allLocs       = "//*[local-name()='loc']"
	entries       = "//*[local-name()='url' or local-name()='sitemap']"
	entryLoc      = "./*[local-name()='loc']"
	entryModified = "./*[local-name()='lastmod']"
)

var lastmodLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Links extracts child URLs from a sitemap or sitemap index. In full mode
// every <loc> is returned in document order. Otherwise <url> entries are kept
// only when their <lastmod> is at or after since, and nested <sitemap>
// entries are kept when their lastmod is missing or at or after since.
func Links(body []byte, fullCrawl bool, since time.Time) ([]string, error) {
	root, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIndex, err)
	}

	if fullCrawl {
		var out []string
		for _, node := range xmlquery.Find(root, allLocs) {
			if loc := strings.TrimSpace(node.InnerText()); loc != "" {
				out = append(out, loc)
			}
		}
		return out, nil
	}

	var out []string
	for _, entry := range xmlquery.Find(root, entries) {
		locNode := xmlquery.FindOne(entry, entryLoc)
		if locNode == nil {
			continue
		}
		loc := strings.TrimSpace(locNode.InnerText())
		if loc == "" {
			continue
		}
		modified, ok := lastModified(entry)
		nested := strings.EqualFold(entry.Data, "sitemap")
		switch {
		case !ok && nested:
			out = append(out, loc)
		case ok && !modified.Before(since):
			out = append(out, loc)
		}
	}
	return out, nil
}

func lastModified(entry *xmlquery.Node) (time.Time, bool) {
	node := xmlquery.FindOne(entry, entryModified)
	if node == nil {
		return time.Time{}, false
	}
	return ParseLastmod(node.InnerText())
}

// ParseLastmod parses a sitemap lastmod value in any supported layout.
func ParseLastmod(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range lastmodLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
