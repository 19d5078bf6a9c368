// Package keywords computes two lightweight text statistics for the daily
// report: hit counts for the configured watchlist, and trending words from
// recent headlines.
package keywords

import (
	"sort"
	"strconv"
	"strings"

	"github.com/deusflow/finbrief/internal/article"
)

// Counts tallies how many of the batch's articles mention each watchlist
// keyword, case-insensitively, over title and body. Keywords with zero
// hits are omitted.
func Counts(watchlist []string, items []article.Article) map[string]int {
	if len(watchlist) == 0 || len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = strings.ToLower(it.Title + " " + it.Body())
	}

	counts := make(map[string]int)
	for _, kw := range watchlist {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" {
			continue
		}
		n := 0
		for _, text := range texts {
			if strings.Contains(text, needle) {
				n++
			}
		}
		if n > 0 {
			counts[kw] = n
		}
	}
	return counts
}

// Count is one trending word with its frequency.
type Count struct {
	Word  string
	Count int
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "from": {}, "that": {},
	"this": {}, "are": {}, "was": {}, "will": {}, "has": {}, "have": {},
	"its": {}, "after": {}, "over": {}, "into": {}, "amid": {}, "says": {},
	"said": {}, "new": {}, "more": {}, "than": {}, "but": {}, "not": {},
	"out": {}, "off": {}, "why": {}, "how": {}, "what": {}, "who": {},
	"when": {}, "where": {}, "can": {}, "could": {}, "may": {}, "your": {},
	"you": {}, "about": {}, "they": {}, "their": {}, "his": {}, "her": {},
	"all": {}, "now": {}, "get": {}, "gets": {}, "set": {}, "sets": {},
}

// Trending extracts the most frequent non-trivial words from headlines.
// Stopwords, short tokens, numbers and blacklisted words are skipped.
func Trending(titles []string, blacklist []string, topN int) []Count {
	banned := make(map[string]struct{}, len(blacklist))
	for _, w := range blacklist {
		banned[strings.ToLower(w)] = struct{}{}
	}

	freq := make(map[string]int)
	for _, title := range titles {
		for _, word := range strings.Fields(strings.ToLower(title)) {
			word = strings.Trim(word, ".,:;!?\"'()[]|-–")
			if len(word) < 3 {
				continue
			}
			if _, stop := stopwords[word]; stop {
				continue
			}
			if _, ban := banned[word]; ban {
				continue
			}
			if _, err := strconv.ParseFloat(word, 64); err == nil {
				continue
			}
			freq[word]++
		}
	}

	out := make([]Count, 0, len(freq))
	for word, n := range freq {
		out = append(out, Count{Word: word, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}
