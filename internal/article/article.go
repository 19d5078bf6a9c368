// Package article defines the canonical in-memory shape every source is
// normalized into before filtering, deduplication and analysis.
package article

import "time"

// DefaultCategory is assigned when the analysis step returns no category
// for an item.
const DefaultCategory = "Other"

// MaxContentRunes caps stored full text; longer bodies are truncated at a
// rune boundary by whoever fills FullText.
const MaxContentRunes = 2500

// Article is one ingested news item. URL is its identity: the store keeps
// at most one row per URL across runs.
type Article struct {
	URL         string
	Title       string
	Snippet     string
	FullText    string // empty until the content fetcher fills it
	Source      string // configured label, may carry a sub-category, e.g. "cnyes(tech)"
	PublishedAt *time.Time
	Category    string
}

// Text returns the text the relevance filter and keyword counter look at.
func (a Article) Text() string {
	if a.Snippet == "" {
		return a.Title
	}
	return a.Title + " " + a.Snippet
}

// Body returns the richest text available for analysis.
func (a Article) Body() string {
	if a.FullText != "" {
		return a.FullText
	}
	if a.Snippet != "" {
		return a.Snippet
	}
	return a.Title
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
