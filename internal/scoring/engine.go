// Package scoring computes the composite selection score of a candidate.
package scoring

import (
	"errors"

	"NewsDigest/internal/domain"
)

// ErrStale is returned for candidates older than the policy horizon; they must be filtered before scoring.
var ErrStale = errors.New("candidate is older than the policy max age")

// Eligible reports whether c falls within the recency horizon of the policy.
func Eligible(c domain.Candidate, policy domain.SelectionPolicy) bool {
	return policy.ReferenceTime.Sub(c.PublishedAt) <= policy.MaxAge
}

// FilterEligible drops candidates outside the recency horizon and returns how many were dropped.
func FilterEligible(candidates []domain.Candidate, policy domain.SelectionPolicy) ([]domain.Candidate, int) {
	kept := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if Eligible(c, policy) {
			kept = append(kept, c)
		}
	}
	return kept, len(candidates) - len(kept)
}

// Score computes the weighted composite of the five sub-scores.
// It depends only on its arguments, so identical inputs give identical output.
func Score(c domain.Candidate, policy domain.SelectionPolicy, alreadySelected []domain.ScoredCandidate) (domain.ScoredCandidate, error) {
	if err := policy.Weights.Validate(); err != nil {
		return domain.ScoredCandidate{}, err
	}
	if policy.ReferenceTime.IsZero() {
		return domain.ScoredCandidate{}, domain.Configuration("policy reference time is not set")
	}
	if !Eligible(c, policy) {
		return domain.ScoredCandidate{}, ErrStale
	}

	h := policy.Heuristics
	breakdown := domain.ScoreBreakdown{
		Importance: importance(c.Tier, h.TierScores),
		Diversity:  diversity(c.Category, policy, alreadySelected),
		Learning:   learningFit(c.Body, h.Learning),
		Visual:     visualPotential(c.Title, h.Visual),
		Recency:    recency(c, policy),
	}

	return domain.ScoredCandidate{
		Candidate: c,
		Score:     composite(breakdown, policy.Weights) * policy.Quota(c.Category).Weight,
		Breakdown: breakdown,
	}, nil
}

// ScoreAll scores a pool against an empty selection.
func ScoreAll(candidates []domain.Candidate, policy domain.SelectionPolicy) ([]domain.ScoredCandidate, error) {
	scored := make([]domain.ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		sc, err := Score(c, policy, nil)
		if err != nil {
			return nil, err
		}
		scored = append(scored, sc)
	}
	return scored, nil
}

func composite(b domain.ScoreBreakdown, w domain.Weights) float64 {
	return b.Importance*w.Importance +
		b.Diversity*w.Diversity +
		b.Learning*w.Learning +
		b.Visual*w.Visual +
		b.Recency*w.Recency
}
