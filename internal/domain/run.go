package domain

import "time"

// Stage names one step of content production.
type Stage string

const (
	StageSelect    Stage = "select"
	StageScript    Stage = "script"
	StageImage     Stage = "image"
	StageNarration Stage = "narration"
	StageCompose   Stage = "compose"
	StagePublish   Stage = "publish"
)

// PipelineStages returns the ordered stages of a run; publish is optional.
func PipelineStages(publish bool) []Stage {
	stages := []Stage{StageSelect, StageScript, StageImage, StageNarration, StageCompose}
	if publish {
		stages = append(stages, StagePublish)
	}
	return stages
}

// ItemStatus is the terminal status of one item in one stage.
type ItemStatus string

const (
	ItemOK      ItemStatus = "ok"
	ItemFailed  ItemStatus = "failed"
	ItemSkipped ItemStatus = "skipped"
)

// StageResult records one item's outcome in one stage.
type StageResult struct {
	CandidateID string        `json:"candidate_id"`
	Stage       Stage         `json:"stage_name"`
	Status      ItemStatus    `json:"status"`
	ArtifactRef string        `json:"artifact_ref,omitempty"`
	Cost        float64       `json:"cost"`
	Duration    time.Duration `json:"duration"`
	CacheHit    bool          `json:"cache_hit"`
	Attempts    int           `json:"attempts"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
}

// RunState tracks the orchestrator state machine.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunAborted   RunState = "aborted"
)

// Terminal reports whether the run can no longer change.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunAborted
}

// OverallStatus summarizes a finished run.
type OverallStatus string

const (
	StatusSuccess OverallStatus = "success"
	StatusPartial OverallStatus = "partial"
	StatusFailed  OverallStatus = "failed"
)

// RunError is a persisted failure record.
type RunError struct {
	Stage       Stage  `json:"stage"`
	CandidateID string `json:"candidate_id,omitempty"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
}

// RunResult is owned by a single run and frozen when it ends.
type RunResult struct {
	RunID         string            `json:"run_id"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at,omitempty"`
	State         RunState          `json:"state"`
	CurrentStage  Stage             `json:"current_stage,omitempty"`
	Shortlist     []ScoredCandidate `json:"shortlist"`
	StageResults  []StageResult     `json:"stage_results"`
	TotalCost     float64           `json:"total_cost"`
	TotalDuration time.Duration     `json:"total_duration"`
	OverallStatus OverallStatus     `json:"overall_status,omitempty"`
	Errors        []RunError        `json:"errors"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine.
func (r RunResult) Clone() RunResult {
	out := r
	out.Shortlist = append([]ScoredCandidate(nil), r.Shortlist...)
	out.StageResults = append([]StageResult(nil), r.StageResults...)
	out.Errors = append([]RunError(nil), r.Errors...)
	out.Warnings = append([]string(nil), r.Warnings...)
	return out
}

// ResultsFor returns the stage results of one stage in recorded order.
func (r RunResult) ResultsFor(stage Stage) []StageResult {
	var out []StageResult
	for _, res := range r.StageResults {
		if res.Stage == stage {
			out = append(out, res)
		}
	}
	return out
}
