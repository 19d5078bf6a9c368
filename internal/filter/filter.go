// Package filter implements the include/exclude relevance gate applied to
// title+snippet before any expensive fetch.
package filter

import (
	"regexp"
	"strings"

	"github.com/deusflow/finbrief/internal/logger"
)

// PatternSet holds case-insensitive patterns compiled from configured
// keywords. An empty set matches nothing.
type PatternSet struct {
	patterns []*regexp.Regexp
}

// NewPatternSet compiles keywords as case-insensitive regexes. Keywords
// that fail to compile are logged and skipped, matching the partial-success
// policy used everywhere else in ingestion.
func NewPatternSet(keywords []string) PatternSet {
	ps := PatternSet{}
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + k)
		if err != nil {
			logger.Warn("skipping invalid keyword pattern", "pattern", k, "error", err)
			continue
		}
		ps.patterns = append(ps.patterns, re)
	}
	return ps
}

// Empty reports whether the set has no usable patterns.
func (ps PatternSet) Empty() bool {
	return len(ps.patterns) == 0
}

// MatchesAny returns true iff any pattern matches text. An empty set
// matches nothing; callers that want "no include patterns means the gate
// is off" must check Empty themselves.
func (ps PatternSet) MatchesAny(text string) bool {
	for _, re := range ps.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Filter is the relevance gate: exclude first, then include (if any
// include patterns are configured).
type Filter struct {
	Include PatternSet
	Exclude PatternSet
}

func New(include, exclude []string) Filter {
	return Filter{
		Include: NewPatternSet(include),
		Exclude: NewPatternSet(exclude),
	}
}

// Accept reports whether an item with the given text survives filtering.
// Exclude takes precedence over include; with no include patterns the
// include gate is skipped entirely.
func (f Filter) Accept(text string) bool {
	if f.Exclude.MatchesAny(text) {
		return false
	}
	if f.Include.Empty() {
		return true
	}
	return f.Include.MatchesAny(text)
}
