// Package reconcile detects candidates that probably duplicate stored transactions.
//
// A stored row is only considered when its date equals the candidate's date and
// its amount equals the candidate's absolute amount. Rows passing that gate are
// scored by description similarity; the best score at or above the threshold
// marks the candidate as a possible duplicate.
package reconcile

import (
	"github.com/dvloznov/invoice-ingest/internal/domain"
)

// Reconciler splits candidates into new rows and possible duplicates.
type Reconciler struct {
	threshold float64
	minLength int
}

// New returns a Reconciler. Non-positive arguments fall back to the defaults.
func New(threshold float64, minLength int) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Reconciler{threshold: threshold, minLength: minLength}
}

// Threshold returns the configured similarity threshold.
func (r *Reconciler) Threshold() float64 {
	return r.threshold
}

// Match returns the stored row of cardID that best matches c.
// Among rows passing the exact gate the highest similarity wins and ties keep
// the earliest row in existing.
func (r *Reconciler) Match(cardID string, c domain.Candidate, existing []domain.Transaction) (domain.Transaction, float64, bool) {
	want := Normalize(c.Description)
	amount := c.Amount.Abs()

	bestIdx, bestScore := -1, 0.0
	for i := range existing {
		e := &existing[i]
		if e.CardID != cardID || e.Date != c.Date || !e.Amount.Equal(amount) {
			continue
		}
		score := similarity(want, Normalize(e.Description), r.minLength)
		if score >= r.threshold && score > bestScore {
			bestIdx, bestScore = i, score
		}
	}

	if bestIdx < 0 {
		return domain.Transaction{}, 0, false
	}
	return existing[bestIdx], bestScore, true
}

// Partition classifies every candidate against a snapshot of the card's stored rows.
// Candidates keep their input order in both results.
func (r *Reconciler) Partition(cardID string, candidates []domain.Candidate, existing []domain.Transaction) ([]domain.Candidate, []domain.PossibleDuplicate) {
	fresh := make([]domain.Candidate, 0, len(candidates))
	var dups []domain.PossibleDuplicate

	for _, c := range candidates {
		match, score, ok := r.Match(cardID, c, existing)
		if !ok {
			fresh = append(fresh, c)
			continue
		}
		dups = append(dups, domain.PossibleDuplicate{
			Transaction:   c,
			ExistingMatch: match,
			Similarity:    score,
		})
	}
	return fresh, dups
}
