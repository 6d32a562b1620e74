package crawler

import "strings"

// DefaultIgnoredPaths lists administrative and account paths that never hold content.
var DefaultIgnoredPaths = []string{
	"/wiki/Special:",
	"/wiki/User_talk:",
	"/wiki/Template:",
	"/wiki/Template_talk:",
	"/wiki/Help:",
	"/wiki/User:",
	"/wiki/UserProfile:",
	"/register",
	"/signin",
	"/reset-password",
}

// RejectReason explains why a candidate link was not followed.
type RejectReason string

// Reasons reported by LinkFilter.Accept.
const (
	Accepted        RejectReason = ""
	RejectEmpty     RejectReason = "empty"
	RejectSelf      RejectReason = "self"
	RejectIgnored   RejectReason = "ignored_path"
	RejectOffDomain RejectReason = "off_domain"
)

// pathPatternBlocklist matches URLs containing any configured path fragment.
type pathPatternBlocklist struct {
	patterns []string
}

func newPathPatternBlocklist(patterns []string) *pathPatternBlocklist {
	b := &pathPatternBlocklist{}
	for _, raw := range patterns {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		b.addPattern(value)
	}
	if len(b.patterns) == 0 {
		return nil
	}
	return b
}

func (b *pathPatternBlocklist) addPattern(pattern string) {
	for _, existing := range b.patterns {
		if existing == pattern {
			return
		}
	}
	b.patterns = append(b.patterns, pattern)
}

func (b *pathPatternBlocklist) IsBlocked(rawURL string) bool {
	if b == nil {
		return false
	}
	for _, p := range b.patterns {
		if strings.Contains(rawURL, p) {
			return true
		}
	}
	return false
}

// LinkFilter normalizes index children and decides which are traversed.
type LinkFilter struct {
	base    string
	ignored *pathPatternBlocklist
	maxLen  int
}

// NewLinkFilter builds a filter that only accepts URLs starting with base.
func NewLinkFilter(base string, ignoredPaths []string, maxLen int) *LinkFilter {
	return &LinkFilter{
		base:    strings.TrimSpace(base),
		ignored: newPathPatternBlocklist(ignoredPaths),
		maxLen:  maxLen,
	}
}

// Accept normalizes candidate and reports whether it should be crawled from
// current. Self links are compared after normalization, so a query variant
// of the current URL is still rejected.
func (f *LinkFilter) Accept(current, candidate string) (string, RejectReason) {
	clean := NormalizeURL(candidate, f.maxLen)
	switch {
	case clean == "":
		return clean, RejectEmpty
	case clean == current:
		return clean, RejectSelf
	case f.ignored.IsBlocked(clean):
		return clean, RejectIgnored
	case !strings.HasPrefix(clean, f.base):
		return clean, RejectOffDomain
	default:
		return clean, Accepted
	}
}
