package scoring

import (
	"math"
	"strings"
	"unicode/utf8"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/textnorm"
)

func importance(tier domain.Tier, scores map[domain.Tier]float64) float64 {
	if v, ok := scores[tier]; ok {
		return clamp01(v)
	}
	return clamp01(scores[domain.TierNormal])
}

// diversity is 1.0 for an unseen category and decays toward 0 as the category fills its max slots.
func diversity(category string, policy domain.SelectionPolicy, selected []domain.ScoredCandidate) float64 {
	count := 0
	for _, s := range selected {
		if s.Category == category {
			count++
		}
	}
	if count == 0 {
		return 1.0
	}

	exp := policy.Heuristics.DiversityExponent
	quota := policy.Quota(category)
	if quota.MaxCount <= 0 {
		return clamp01(math.Pow(1/float64(1+count), exp))
	}

	remaining := quota.MaxCount - count
	if remaining <= 0 {
		return 0
	}
	return clamp01(math.Pow(float64(remaining)/float64(quota.MaxCount), exp))
}

// learningFit rewards bodies inside the ideal word range with moderately complex vocabulary.
func learningFit(body string, p domain.LearningParams) float64 {
	words := strings.Fields(body)
	if len(words) == 0 {
		return 0
	}

	n := float64(len(words))
	var lengthFit float64
	switch {
	case n < float64(p.IdealMinWords):
		lengthFit = n / float64(p.IdealMinWords)
	case n <= float64(p.IdealMaxWords):
		lengthFit = 1
	default:
		lengthFit = 1 - (n-float64(p.IdealMaxWords))/float64(p.HardMaxWords-p.IdealMaxWords)
	}

	runes := 0
	for _, w := range words {
		runes += utf8.RuneCountInString(w)
	}
	avg := float64(runes) / n

	var tokenFit float64
	switch {
	case avg < p.IdealMinTokenLen:
		tokenFit = avg / p.IdealMinTokenLen
	case avg <= p.IdealMaxTokenLen:
		tokenFit = 1
	default:
		tokenFit = 1 - (avg-p.IdealMaxTokenLen)/p.IdealMaxTokenLen
	}

	return clamp01(p.LengthShare*clamp01(lengthFit) + (1-p.LengthShare)*clamp01(tokenFit))
}

func visualPotential(title string, p domain.VisualParams) float64 {
	words := textnorm.Words(title)
	hits := 0
	for _, kw := range p.Keywords {
		if textnorm.ContainsPhrase(words, kw) {
			hits++
		}
	}
	if hits == 0 {
		return clamp01(p.Default)
	}
	return clamp01(p.Default + float64(hits)*p.PerKeyword)
}

// recency decays linearly from 1.0 at publish time to 0.0 at the max age horizon.
func recency(c domain.Candidate, policy domain.SelectionPolicy) float64 {
	age := policy.ReferenceTime.Sub(c.PublishedAt)
	if age <= 0 {
		return 1
	}
	return clamp01(1 - float64(age)/float64(policy.MaxAge))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
