package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const weightTolerance = 1e-9

// Weights are the per-component multipliers of the composite score.
type Weights struct {
	Importance float64 `yaml:"importance" json:"importance"`
	Diversity  float64 `yaml:"diversity" json:"diversity"`
	Learning   float64 `yaml:"learning" json:"learning"`
	Visual     float64 `yaml:"visual" json:"visual"`
	Recency    float64 `yaml:"recency" json:"recency"`
}

// DefaultWeights returns 0.3/0.2/0.3/0.1/0.1.
func DefaultWeights() Weights {
	return Weights{Importance: 0.3, Diversity: 0.2, Learning: 0.3, Visual: 0.1, Recency: 0.1}
}

// Sum adds all components.
func (w Weights) Sum() float64 {
	return w.Importance + w.Diversity + w.Learning + w.Visual + w.Recency
}

// Validate rejects negative weights and weights that do not sum to 1.0.
func (w Weights) Validate() error {
	components := []struct {
		name  string
		value float64
	}{
		{"importance", w.Importance},
		{"diversity", w.Diversity},
		{"learning", w.Learning},
		{"visual", w.Visual},
		{"recency", w.Recency},
	}
	for _, c := range components {
		if c.value < 0 || math.IsNaN(c.value) {
			return Configuration("weight %s must be non-negative, got %v", c.name, c.value)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return Configuration("weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// CategoryQuota bounds how many shortlist slots a category may take.
// MaxCount of zero means unbounded.
type CategoryQuota struct {
	MinCount int     `yaml:"minCount" json:"min_count"`
	MaxCount int     `yaml:"maxCount" json:"max_count"`
	Weight   float64 `yaml:"weight" json:"weight"`
}

// LearningParams tune the learning-fit heuristic.
type LearningParams struct {
	IdealMinWords    int     `yaml:"idealMinWords" json:"ideal_min_words"`
	IdealMaxWords    int     `yaml:"idealMaxWords" json:"ideal_max_words"`
	HardMaxWords     int     `yaml:"hardMaxWords" json:"hard_max_words"`
	IdealMinTokenLen float64 `yaml:"idealMinTokenLen" json:"ideal_min_token_len"`
	IdealMaxTokenLen float64 `yaml:"idealMaxTokenLen" json:"ideal_max_token_len"`
	LengthShare      float64 `yaml:"lengthShare" json:"length_share"`
}

// VisualParams tune the visual-potential heuristic.
type VisualParams struct {
	Keywords   []string `yaml:"keywords" json:"keywords"`
	Default    float64  `yaml:"default" json:"default"`
	PerKeyword float64  `yaml:"perKeyword" json:"per_keyword"`
}

// Heuristics groups the tunable constants of the scoring engine.
type Heuristics struct {
	TierScores        map[Tier]float64 `yaml:"tierScores" json:"tier_scores"`
	DiversityExponent float64          `yaml:"diversityExponent" json:"diversity_exponent"`
	Learning          LearningParams   `yaml:"learning" json:"learning"`
	Visual            VisualParams     `yaml:"visual" json:"visual"`
}

// DefaultHeuristics mirrors the editorial defaults: breaking news dominates, 300-800 word bodies fit a segment.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		TierScores: map[Tier]float64{
			TierBreaking: 1.0,
			TierMajor:    0.5,
			TierNormal:   0.1,
			TierMinor:    0.05,
		},
		DiversityExponent: 1.0,
		Learning: LearningParams{
			IdealMinWords:    300,
			IdealMaxWords:    800,
			HardMaxWords:     2000,
			IdealMinTokenLen: 4.0,
			IdealMaxTokenLen: 6.5,
			LengthShare:      0.7,
		},
		Visual: VisualParams{
			Keywords: []string{
				"robot", "drone", "rocket", "satellite", "car", "vehicle", "ev",
				"phone", "smartphone", "iphone", "laptop", "chip", "gpu", "semiconductor",
				"camera", "headset", "glasses", "watch", "battery", "factory", "data center",
				"server", "telescope", "spacecraft", "display", "console", "solar panel",
			},
			Default:    0.2,
			PerKeyword: 0.4,
		},
	}
}

// SelectionPolicy is loaded once per run and never mutated.
type SelectionPolicy struct {
	TargetCount   int                      `yaml:"targetCount" json:"target_count"`
	MinScore      float64                  `yaml:"minScore" json:"min_score"`
	MaxAge        time.Duration            `yaml:"maxAge" json:"max_age"`
	Sources       []string                 `yaml:"sources" json:"sources"`
	Quotas        map[string]CategoryQuota `yaml:"quotas" json:"category_quota"`
	Weights       Weights                  `yaml:"weights" json:"weights"`
	Heuristics    Heuristics               `yaml:"heuristics" json:"heuristics"`
	ReferenceTime time.Time                `yaml:"-" json:"reference_time"`
}

// DefaultPolicy selects five items, mostly IT, from the last three days.
func DefaultPolicy() SelectionPolicy {
	return SelectionPolicy{
		TargetCount: 5,
		MinScore:    0,
		MaxAge:      72 * time.Hour,
		Quotas: map[string]CategoryQuota{
			"it":       {MinCount: 3, MaxCount: 4, Weight: 1.0},
			"business": {MinCount: 1, MaxCount: 2, Weight: 1.0},
		},
		Weights:    DefaultWeights(),
		Heuristics: DefaultHeuristics(),
	}
}

// Quota returns the quota of a category; unlisted categories are unbounded with weight 1.
func (p SelectionPolicy) Quota(category string) CategoryQuota {
	q, ok := p.Quotas[category]
	if !ok {
		return CategoryQuota{Weight: 1.0}
	}
	if q.Weight == 0 {
		q.Weight = 1.0
	}
	return q
}

// QuotaCategories lists quota categories in a stable order.
func (p SelectionPolicy) QuotaCategories() []string {
	names := make([]string, 0, len(p.Quotas))
	for name := range p.Quotas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports a configuration error before any external call happens.
func (p SelectionPolicy) Validate() error {
	if p.TargetCount <= 0 {
		return Configuration("target count must be positive, got %d", p.TargetCount)
	}
	if p.MaxAge <= 0 {
		return Configuration("max age must be positive, got %s", p.MaxAge)
	}
	if p.MinScore < 0 {
		return Configuration("min score must be non-negative, got %v", p.MinScore)
	}
	if err := p.Weights.Validate(); err != nil {
		return err
	}
	for _, name := range p.QuotaCategories() {
		q := p.Quotas[name]
		if q.MinCount < 0 || q.MaxCount < 0 || q.Weight < 0 {
			return Configuration("quota %s: counts and weight must be non-negative", name)
		}
		if q.MaxCount > 0 && q.MinCount > q.MaxCount {
			return Configuration("quota %s: min %d exceeds max %d", name, q.MinCount, q.MaxCount)
		}
	}
	h := p.Heuristics
	if h.DiversityExponent <= 0 {
		return Configuration("diversity exponent must be positive, got %v", h.DiversityExponent)
	}
	l := h.Learning
	if l.IdealMinWords <= 0 || l.IdealMaxWords < l.IdealMinWords || l.HardMaxWords <= l.IdealMaxWords {
		return Configuration("learning word thresholds must satisfy 0 < min <= max < hard max")
	}
	if l.IdealMinTokenLen <= 0 || l.IdealMaxTokenLen < l.IdealMinTokenLen {
		return Configuration("learning token length thresholds must satisfy 0 < min <= max")
	}
	if l.LengthShare < 0 || l.LengthShare > 1 {
		return Configuration("learning length share must be within [0,1], got %v", l.LengthShare)
	}
	if v := h.Visual; v.Default < 0 || v.Default > 1 || v.PerKeyword < 0 {
		return Configuration("visual default must be within [0,1] and per-keyword bonus non-negative")
	}
	for tier, score := range h.TierScores {
		if score < 0 || score > 1 {
			return Configuration("tier score %s must be within [0,1], got %v", tier, score)
		}
	}
	return nil
}

// String renders the quota for logs.
func (q CategoryQuota) String() string {
	return fmt.Sprintf("min=%d max=%d weight=%.2f", q.MinCount, q.MaxCount, q.Weight)
}
