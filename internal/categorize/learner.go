// Package categorize learns categories from a household's labeled history.
package categorize

import (
	"strings"

	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// Lookup maps a normalized description to its most frequent historical category.
type Lookup map[string]string

// Key normalizes a description for lookup: trimmed and lower-cased.
func Key(description string) string {
	return strings.ToLower(strings.TrimSpace(description))
}

// BuildLookup counts categories per normalized description and keeps the most
// frequent one. Ties go to the lexicographically smallest category. Rows with an
// empty or unclassified category are ignored.
func BuildLookup(history []domain.Transaction) Lookup {
	counts := make(map[string]map[string]int)
	for _, tx := range history {
		category := strings.TrimSpace(tx.Category)
		if category == "" || strings.EqualFold(category, domain.Unclassified) {
			continue
		}
		key := Key(tx.Description)
		if key == "" {
			continue
		}
		if counts[key] == nil {
			counts[key] = make(map[string]int)
		}
		counts[key][category]++
	}

	lookup := make(Lookup, len(counts))
	for key, byCategory := range counts {
		best, bestCount := "", 0
		for category, n := range byCategory {
			if n > bestCount || (n == bestCount && category < best) {
				best, bestCount = category, n
			}
		}
		lookup[key] = best
	}
	return lookup
}

// Category returns the learned category for description.
func (l Lookup) Category(description string) (string, bool) {
	c, ok := l[Key(description)]
	return c, ok
}

// Apply returns a copy of candidates with categories resolved: history first,
// then the extractor's value, then unclassified. It also reports how many
// categories came from history.
func Apply(l Lookup, candidates []domain.Candidate) ([]domain.Candidate, int) {
	out := make([]domain.Candidate, len(candidates))
	fromHistory := 0
	for i, c := range candidates {
		if learned, ok := l.Category(c.Description); ok {
			c.Category = learned
			fromHistory++
		} else if strings.TrimSpace(c.Category) == "" {
			c.Category = domain.Unclassified
		}
		out[i] = c
	}
	return out, fromHistory
}
