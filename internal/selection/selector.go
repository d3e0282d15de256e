// Package selection builds the quota-compliant shortlist of a run.
package selection

import (
	"fmt"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/scoring"
)

// Result is the shortlist plus any quota the pool could not satisfy.
type Result struct {
	Shortlist  []domain.ScoredCandidate
	Warnings   []domain.QuotaUnmetWarning
	Backfilled int
}

// Select picks candidates greedily, re-scoring diversity against what is already chosen.
// Categories short of their minimum are backfilled afterwards, which may exceed the target by
// at most the deficit.
func Select(scored []domain.ScoredCandidate, policy domain.SelectionPolicy) (Result, error) {
	if err := policy.Validate(); err != nil {
		return Result{}, err
	}

	pool := eligible(scored, policy)
	counts := map[string]int{}
	var result Result

	for len(result.Shortlist) < policy.TargetCount && len(pool) > 0 {
		idx, best, err := pickBest(pool, policy, result.Shortlist, func(c domain.ScoredCandidate) bool {
			q := policy.Quota(c.Category)
			return q.MaxCount == 0 || counts[c.Category] < q.MaxCount
		})
		if err != nil {
			return Result{}, err
		}
		if idx < 0 {
			break
		}
		result.Shortlist = append(result.Shortlist, best)
		counts[best.Category]++
		pool = append(pool[:idx], pool[idx+1:]...)
	}

	for _, category := range policy.QuotaCategories() {
		quota := policy.Quota(category)
		for counts[category] < quota.MinCount {
			idx, best, err := pickBest(pool, policy, result.Shortlist, func(c domain.ScoredCandidate) bool {
				return c.Category == category
			})
			if err != nil {
				return Result{}, err
			}
			if idx < 0 {
				break
			}
			result.Shortlist = append(result.Shortlist, best)
			result.Backfilled++
			counts[category]++
			pool = append(pool[:idx], pool[idx+1:]...)
		}
		if counts[category] < quota.MinCount {
			result.Warnings = append(result.Warnings, domain.QuotaUnmetWarning{
				Category: category,
				MinCount: quota.MinCount,
				Selected: counts[category],
			})
		}
	}

	return result, nil
}

// eligible drops stale, duplicate and below-threshold candidates, keeping input order.
func eligible(scored []domain.ScoredCandidate, policy domain.SelectionPolicy) []domain.ScoredCandidate {
	seen := make(map[string]struct{}, len(scored))
	pool := make([]domain.ScoredCandidate, 0, len(scored))
	for _, c := range scored {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		if c.Score < policy.MinScore || !scoring.Eligible(c.Candidate, policy) {
			continue
		}
		pool = append(pool, c)
	}
	return pool
}

func pickBest(
	pool []domain.ScoredCandidate,
	policy domain.SelectionPolicy,
	selected []domain.ScoredCandidate,
	allowed func(domain.ScoredCandidate) bool,
) (int, domain.ScoredCandidate, error) {
	bestIdx := -1
	var best domain.ScoredCandidate
	for i, c := range pool {
		if !allowed(c) {
			continue
		}
		rescored, err := scoring.Score(c.Candidate, policy, selected)
		if err != nil {
			return -1, domain.ScoredCandidate{}, fmt.Errorf("rescore %s: %w", c.ID, err)
		}
		if bestIdx < 0 || Less(rescored, best) {
			bestIdx, best = i, rescored
		}
	}
	return bestIdx, best, nil
}

// Less reports whether a ranks ahead of b: higher score, then higher tier, newer publish time,
// lower source priority value and finally lexicographic id.
func Less(a, b domain.ScoredCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ra, rb := a.Tier.Rank(), b.Tier.Rank(); ra != rb {
		return ra > rb
	}
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	if a.SourcePriority != b.SourcePriority {
		return a.SourcePriority < b.SourcePriority
	}
	return a.ID < b.ID
}
