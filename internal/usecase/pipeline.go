package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"NewsDigest/internal/cache"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scoring"
	"NewsDigest/internal/selection"
	"NewsDigest/internal/stagerun"
)

// StageConfig is the per-run execution configuration of the production stages.
type StageConfig struct {
	MaxConcurrency int
	Retry          stagerun.RetryPolicy
	AbortThreshold float64
	Publish        bool
	Options        map[domain.Stage]map[string]string
}

// DefaultStageConfig aborts only when a stage has no successful item.
func DefaultStageConfig() StageConfig {
	return StageConfig{
		MaxConcurrency: 3,
		Retry:          stagerun.DefaultRetryPolicy(),
		AbortThreshold: 1.0,
	}
}

// Validate checks the stage configuration.
func (c StageConfig) Validate() error {
	if c.AbortThreshold < 0 || c.AbortThreshold > 1 {
		return domain.Configuration("abort threshold must be within [0,1], got %v", c.AbortThreshold)
	}
	return c.runnerConfig(domain.StageScript).Validate()
}

func (c StageConfig) runnerConfig(stage domain.Stage) stagerun.Config {
	return stagerun.Config{
		MaxConcurrency: c.MaxConcurrency,
		Retry:          c.Retry,
		Options:        c.Options[stage],
	}
}

// Progress receives a snapshot of the run after every state change.
type Progress func(domain.RunResult)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source    ports.CandidateSource
	Producers map[domain.Stage]ports.Producer
	Publisher ports.Publisher
	Cache     *cache.Cache
	Logger    *slog.Logger
}

// Pipeline selects the shortlist and drives it through the production stages.
type Pipeline struct {
	source    ports.CandidateSource
	producers map[domain.Stage]ports.Producer
	runner    *stagerun.Runner
	cache     *cache.Cache
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := deps.Cache
	if c == nil {
		c = cache.New(nil, logger)
	}

	producers := make(map[domain.Stage]ports.Producer, len(deps.Producers)+1)
	for stage, producer := range deps.Producers {
		producers[stage] = producer
	}
	if deps.Publisher != nil {
		producers[domain.StagePublish] = publishProducer{publisher: deps.Publisher}
	}

	return &Pipeline{
		source:    deps.Source,
		producers: producers,
		runner:    stagerun.NewRunner(c, logger.With("component", "stage_runner")),
		cache:     c,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one complete run under a fresh run id. It does not take the
// single-flight gate or the cross-process lock and persists nothing; callers
// that need those guarantees go through Scheduler.Run.
func (p *Pipeline) Run(ctx context.Context, policy domain.SelectionPolicy, cfg StageConfig) (domain.RunResult, error) {
	return p.Execute(ctx, uuid.NewString(), policy, cfg, nil)
}

// Execute runs the state machine pending -> running(stage) -> completed | aborted.
// Only configuration errors are returned; every other failure is recorded in the result.
func (p *Pipeline) Execute(
	ctx context.Context,
	runID string,
	policy domain.SelectionPolicy,
	cfg StageConfig,
	progress Progress,
) (domain.RunResult, error) {
	if policy.ReferenceTime.IsZero() {
		policy.ReferenceTime = p.now()
	}
	if err := p.validate(policy, cfg); err != nil {
		return domain.RunResult{}, err
	}

	ex := &execution{
		result: domain.RunResult{
			RunID:        runID,
			StartedAt:    p.now().UTC(),
			State:        domain.RunPending,
			StageResults: []domain.StageResult{},
			Errors:       []domain.RunError{},
		},
		logger:   p.logger.With("run_id", runID),
		progress: progress,
		now:      p.now,
	}
	ex.emit()
	ex.logger.Info("run started", "target_count", policy.TargetCount, "sources", policy.Sources, "publish", cfg.Publish)

	items := p.selectStage(ctx, ex, policy)
	if ex.result.State != domain.RunAborted {
		p.productionStages(ctx, ex, items, cfg)
	}
	result := ex.finish()

	hits, misses := p.cache.Stats()
	ex.logger.Debug("cache usage", "hits_total", hits, "misses_total", misses)
	return result, nil
}

func (p *Pipeline) validate(policy domain.SelectionPolicy, cfg StageConfig) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if p.source == nil {
		return domain.Configuration("no candidate source configured")
	}
	for _, stage := range domain.PipelineStages(cfg.Publish)[1:] {
		if p.producers[stage] == nil {
			return domain.Configuration("no producer configured for stage %s", stage)
		}
	}
	return nil
}

func (p *Pipeline) selectStage(ctx context.Context, ex *execution, policy domain.SelectionPolicy) []domain.WorkItem {
	ex.enter(domain.StageSelect)

	candidates, err := p.source.Fetch(ctx, policy.Sources, policy.MaxAge)
	if err != nil {
		ex.fail(domain.StageSelect, "", err)
		ex.abort(domain.StageSelect, "candidate fetch failed")
		return nil
	}

	fresh, stale := scoring.FilterEligible(candidates, policy)
	scored, err := scoring.ScoreAll(fresh, policy)
	if err != nil {
		ex.fail(domain.StageSelect, "", fmt.Errorf("score candidates: %w", err))
		ex.abort(domain.StageSelect, "scoring failed")
		return nil
	}
	picked, err := selection.Select(scored, policy)
	if err != nil {
		ex.fail(domain.StageSelect, "", fmt.Errorf("select shortlist: %w", err))
		ex.abort(domain.StageSelect, "selection failed")
		return nil
	}

	ex.result.Shortlist = picked.Shortlist
	for _, w := range picked.Warnings {
		ex.result.Warnings = append(ex.result.Warnings, w.Error())
		ex.logger.Warn("quota unmet", "category", w.Category, "min_count", w.MinCount, "selected", w.Selected)
	}
	logSelection(ex.logger, len(candidates), stale, picked)

	items := make([]domain.WorkItem, 0, len(picked.Shortlist))
	for _, c := range picked.Shortlist {
		ex.record(domain.StageResult{CandidateID: c.ID, Stage: domain.StageSelect, Status: domain.ItemOK})
		items = append(items, domain.WorkItem{Candidate: c, Artifacts: map[domain.Stage]string{}})
	}
	ex.leave()

	if len(items) == 0 {
		ex.abort(domain.StageSelect, "no candidate passed selection")
	}
	return items
}

func (p *Pipeline) productionStages(ctx context.Context, ex *execution, items []domain.WorkItem, cfg StageConfig) {
	for _, stage := range domain.PipelineStages(cfg.Publish)[1:] {
		if err := ctx.Err(); err != nil {
			ex.fail(stage, "", err)
			ex.abort(stage, "run cancelled")
			return
		}
		if len(items) == 0 {
			ex.abort(stage, "no item carried forward")
			return
		}

		ex.enter(stage)
		options := cfg.Options[stage]
		for i := range items {
			items[i].Payload = stagePayload(stage, items[i], options)
		}

		results := p.runner.RunStage(ctx, stage, items, p.producers[stage], cfg.runnerConfig(stage))

		carried := make([]domain.WorkItem, 0, len(items))
		var failed, skipped int
		for i, res := range results {
			ex.record(res)
			switch res.Status {
			case domain.ItemOK:
				item := items[i]
				item.Artifacts = cloneArtifacts(item.Artifacts)
				item.Artifacts[stage] = res.ArtifactRef
				carried = append(carried, item)
			case domain.ItemFailed:
				failed++
				ex.failResult(res)
			case domain.ItemSkipped:
				skipped++
				ex.failResult(res)
			}
		}
		ex.leave()

		switch {
		case skipped > 0:
			ex.abort(stage, "run cancelled")
			return
		case len(carried) == 0:
			ex.abort(stage, "no item succeeded")
			return
		case float64(failed)/float64(len(items)) > cfg.AbortThreshold:
			ex.abort(stage, fmt.Sprintf("%d of %d items failed", failed, len(items)))
			return
		}
		items = carried
	}
	ex.result.CurrentStage = ""
}

// execution holds the mutable state of one run; only the orchestrating goroutine touches it.
type execution struct {
	result     domain.RunResult
	logger     *slog.Logger
	progress   Progress
	now        func() time.Time
	firstStart time.Time
	lastEnd    time.Time
}

func (e *execution) enter(stage domain.Stage) {
	if e.firstStart.IsZero() {
		e.firstStart = e.now()
	}
	e.result.State = domain.RunRunning
	e.result.CurrentStage = stage
	e.emit()
}

func (e *execution) leave() {
	e.lastEnd = e.now()
	e.emit()
}

func (e *execution) record(res domain.StageResult) {
	e.result.StageResults = append(e.result.StageResults, res)
	e.result.TotalCost += res.Cost
}

func (e *execution) failResult(res domain.StageResult) {
	e.result.Errors = append(e.result.Errors, domain.RunError{
		Stage:       res.Stage,
		CandidateID: res.CandidateID,
		Kind:        res.ErrorKind,
		Message:     res.Error,
	})
}

func (e *execution) fail(stage domain.Stage, candidateID string, err error) {
	e.logger.Error("stage error", "stage", stage, "candidate_id", candidateID, "error", err)
	e.result.Errors = append(e.result.Errors, domain.RunError{
		Stage:       stage,
		CandidateID: candidateID,
		Kind:        domain.ErrorKind(err),
		Message:     err.Error(),
	})
}

func (e *execution) abort(stage domain.Stage, reason string) {
	if e.lastEnd.IsZero() && !e.firstStart.IsZero() {
		e.lastEnd = e.now()
	}
	e.result.State = domain.RunAborted
	e.result.CurrentStage = stage
	e.result.Errors = append(e.result.Errors, domain.RunError{Stage: stage, Kind: "aborted", Message: reason})
	e.logger.Warn("run aborted", "stage", stage, "reason", reason)
}

func (e *execution) finish() domain.RunResult {
	if e.result.State != domain.RunAborted {
		e.result.State = domain.RunCompleted
	}
	if !e.firstStart.IsZero() && !e.lastEnd.IsZero() {
		e.result.TotalDuration = e.lastEnd.Sub(e.firstStart)
	}
	e.result.FinishedAt = e.now().UTC()
	e.result.OverallStatus = overallStatus(e.result)
	e.emit()

	e.logger.Info("run finished",
		"state", e.result.State,
		"overall_status", e.result.OverallStatus,
		"total_cost", e.result.TotalCost,
		"total_duration", e.result.TotalDuration,
		"errors", len(e.result.Errors))
	return e.result.Clone()
}

func (e *execution) emit() {
	if e.progress != nil {
		e.progress(e.result.Clone())
	}
}

// overallStatus is success only for a completed run without any failed item; otherwise partial
// when something reached compose, else failed.
func overallStatus(r domain.RunResult) domain.OverallStatus {
	clean := r.State == domain.RunCompleted
	composed := false
	for _, res := range r.StageResults {
		if res.Status != domain.ItemOK {
			clean = false
		}
		if res.Stage == domain.StageCompose && res.Status == domain.ItemOK {
			composed = true
		}
	}
	switch {
	case clean:
		return domain.StatusSuccess
	case composed:
		return domain.StatusPartial
	default:
		return domain.StatusFailed
	}
}

func cloneArtifacts(in map[domain.Stage]string) map[domain.Stage]string {
	out := make(map[domain.Stage]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func logSelection(logger *slog.Logger, fetched, stale int, picked selection.Result) {
	type categoryStats struct {
		count int
		total float64
	}
	stats := map[string]*categoryStats{}
	var total float64
	for _, c := range picked.Shortlist {
		s, ok := stats[c.Category]
		if !ok {
			s = &categoryStats{}
			stats[c.Category] = s
		}
		s.count++
		s.total += c.Score
		total += c.Score
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := stats[name]
		logger.Info("selected category", "category", name, "count", s.count, "avg_score", s.total/float64(s.count))
	}

	avg := 0.0
	if n := len(picked.Shortlist); n > 0 {
		avg = total / float64(n)
	}
	logger.Info("shortlist selected",
		"fetched", fetched,
		"stale", stale,
		"selected", len(picked.Shortlist),
		"backfilled", picked.Backfilled,
		"avg_score", avg)
}
