// Package dedup suppresses near-duplicate articles within a single run by
// comparing titles with a Sørensen–Dice bigram similarity. Exact URL
// duplicates are handled earlier, against the persistent store.
package dedup

import (
	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

// Registry accumulates the titles accepted so far in the current run.
// First accepted wins: a later candidate scoring above the threshold
// against any accepted title is treated as a duplicate of it.
type Registry struct {
	threshold float64
	metric    *metrics.SorensenDice
	accepted  []string
}

func NewRegistry(threshold float64) *Registry {
	// NewSorensenDice defaults to case-sensitive comparison; headline
	// casing varies between sources and must not defeat dedup.
	metric := metrics.NewSorensenDice()
	metric.CaseSensitive = false
	return &Registry{
		threshold: threshold,
		metric:    metric,
	}
}

// Similarity scores two titles in [0,1].
func (r *Registry) Similarity(a, b string) float64 {
	return strutil.Similarity(a, b, r.metric)
}

// IsNearDuplicate reports whether title scores strictly above the
// threshold against any already-accepted title. A score exactly at the
// threshold is NOT a duplicate.
func (r *Registry) IsNearDuplicate(title string) bool {
	for _, existing := range r.accepted {
		if r.Similarity(title, existing) > r.threshold {
			return true
		}
	}
	return false
}

// Accept records a title as part of the run's accepted set.
func (r *Registry) Accept(title string) {
	r.accepted = append(r.accepted, title)
}

// Len returns the number of accepted titles.
func (r *Registry) Len() int {
	return len(r.accepted)
}
