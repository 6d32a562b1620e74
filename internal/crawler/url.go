package crawler

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

// DefaultMaxURLLength caps the length of normalized URLs.
const DefaultMaxURLLength = 250

// DefaultIndexMarker identifies structured index URLs by substring.
const DefaultIndexMarker = ".xml"

// NormalizeURL strips the query string and caps the result at maxLen bytes
// without splitting a UTF-8 sequence. A maxLen <= 0 disables the cap.
func NormalizeURL(raw string, maxLen int) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if maxLen > 0 && len(raw) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}
	return raw
}

// IsIndexURL reports whether rawURL names a structured index.
func IsIndexURL(rawURL, marker string) bool {
	if marker == "" {
		marker = DefaultIndexMarker
	}
	return strings.Contains(rawURL, marker)
}

// Host returns the lowercase hostname of rawURL, or "unknown".
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
