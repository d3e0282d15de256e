package domain

import "time"

// Artifact is what a producer returns: a reference to the generated output and its price.
type Artifact struct {
	Ref  string
	Cost float64
}

// CacheEntry is an append-only record of a produced artifact.
type CacheEntry struct {
	Key         string    `json:"key"`
	Stage       Stage     `json:"stage"`
	ArtifactRef string    `json:"artifact_ref"`
	Cost        float64   `json:"cost"`
	CreatedAt   time.Time `json:"created_at"`
}

// Ref is an opaque artifact reference or URL inside a payload. Fingerprinting keeps it verbatim.
type Ref string

// Payload is the stage input that gets fingerprinted.
type Payload map[string]any

// WorkItem is one shortlist entry flowing through a stage.
type WorkItem struct {
	Candidate ScoredCandidate
	Artifacts map[Stage]string
	Payload   Payload
}

// PublishMetadata accompanies a composed artifact to the publish target.
type PublishMetadata struct {
	CandidateID string
	Title       string
	URL         string
	Source      string
	Category    string
}
