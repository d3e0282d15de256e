package domain

import "time"

// Tier is the editorial importance level a source assigns to a candidate.
type Tier string

const (
	TierBreaking Tier = "breaking"
	TierMajor    Tier = "major"
	TierNormal   Tier = "normal"
	TierMinor    Tier = "minor"
)

// Rank orders tiers for tie-breaking; unknown tiers rank as normal.
func (t Tier) Rank() int {
	switch t {
	case TierBreaking:
		return 3
	case TierMajor:
		return 2
	case TierMinor:
		return 0
	default:
		return 1
	}
}

// Candidate is a fetched news item eligible for scoring. It is never mutated after fetch.
type Candidate struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	URL            string    `json:"url"`
	Source         string    `json:"source"`
	Category       string    `json:"category"`
	Tier           Tier      `json:"tier"`
	PublishedAt    time.Time `json:"published_at"`
	SourcePriority int       `json:"source_priority"`
}

// ScoreBreakdown keeps every normalized sub-score for audit.
type ScoreBreakdown struct {
	Importance float64 `json:"importance"`
	Diversity  float64 `json:"diversity"`
	Learning   float64 `json:"learning"`
	Visual     float64 `json:"visual"`
	Recency    float64 `json:"recency"`
}

// ScoredCandidate is a candidate with its composite score. Re-scoring produces a new value.
type ScoredCandidate struct {
	Candidate
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"score_breakdown"`
}
