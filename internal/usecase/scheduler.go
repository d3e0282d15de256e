package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// SchedulerDeps wires the cadence driver, persistence and locking around the pipeline.
type SchedulerDeps struct {
	Driver   ports.Scheduler
	Pipeline *Pipeline
	Runs     ports.RunRepository
	Lock     ports.RunLock
	Notifier ports.Notifier
	Logger   *slog.Logger
}

// SchedulerConfig is what a scheduled run executes with.
type SchedulerConfig struct {
	Policy          domain.SelectionPolicy
	Stages          StageConfig
	QueueOnConflict bool
}

// Scheduler triggers pipeline runs and guarantees at most one is in flight.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	runs     ports.RunRepository
	lock     ports.RunLock
	notifier ports.Notifier
	logger   *slog.Logger
	cfg      SchedulerConfig

	gate   chan struct{}
	mu     sync.RWMutex
	active *domain.RunResult
}

// NewScheduler returns a helper to start/stop recurring runs and to trigger one on demand.
func NewScheduler(deps SchedulerDeps, cfg SchedulerConfig) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		driver:   deps.Driver,
		pipeline: deps.Pipeline,
		runs:     deps.Runs,
		lock:     deps.Lock,
		notifier: deps.Notifier,
		logger:   logger,
		cfg:      cfg,
		gate:     make(chan struct{}, 1),
	}
}

// Start registers the configured run with the cadence driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		policy := s.cfg.Policy
		policy.ReferenceTime = trigger
		if _, err := s.Run(ctx, policy, s.cfg.Stages); err != nil {
			if errors.Is(err, domain.ErrSingleFlightConflict) {
				s.logger.Warn("scheduled run skipped", "trigger", trigger, "error", err)
				return
			}
			s.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}

// RunNow executes the configured run immediately.
func (s *Scheduler) RunNow(ctx context.Context) (domain.RunResult, error) {
	return s.Run(ctx, s.cfg.Policy, s.cfg.Stages)
}

// Run executes one pipeline run. While another run is in flight it returns
// domain.ErrSingleFlightConflict, or waits for it when queueing is configured.
func (s *Scheduler) Run(ctx context.Context, policy domain.SelectionPolicy, cfg StageConfig) (domain.RunResult, error) {
	if s.pipeline == nil {
		return domain.RunResult{}, domain.Configuration("no pipeline configured")
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return domain.RunResult{}, err
	}
	defer release()

	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID)

	result, err := s.pipeline.Execute(ctx, runID, policy, cfg, func(snapshot domain.RunResult) {
		s.mu.Lock()
		s.active = &snapshot
		s.mu.Unlock()
		s.persist(ctx, logger, snapshot)
	})

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()

	if err != nil {
		logger.Error("run rejected", "error", err)
		s.notify(ctx, logger, fmt.Sprintf("NewsDigest run %s rejected: %v", runID, err))
		return domain.RunResult{}, err
	}

	s.notify(ctx, logger, buildRunMessage(result))
	return result, nil
}

// Status returns the in-flight snapshot of runID or its persisted result.
func (s *Scheduler) Status(ctx context.Context, runID string) (domain.RunResult, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active != nil && active.RunID == runID {
		return active.Clone(), nil
	}

	if s.runs == nil {
		return domain.RunResult{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return s.runs.GetRun(ctx, runID)
}

// ListRuns returns the most recent runs, newest first.
func (s *Scheduler) ListRuns(ctx context.Context, limit int) ([]domain.RunResult, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.ListRuns(ctx, limit)
}

// acquire takes the in-process gate and then the cross-process lock.
func (s *Scheduler) acquire(ctx context.Context) (func(), error) {
	wait := s.cfg.QueueOnConflict
	if wait {
		select {
		case s.gate <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case s.gate <- struct{}{}:
		default:
			return nil, domain.ErrSingleFlightConflict
		}
	}
	releaseGate := func() { <-s.gate }

	if s.lock == nil {
		return releaseGate, nil
	}
	ok, err := s.lock.TryLock(ctx, wait)
	if err != nil {
		releaseGate()
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		releaseGate()
		return nil, domain.ErrSingleFlightConflict
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("release run lock", "error", err)
		}
		releaseGate()
	}, nil
}

func (s *Scheduler) persist(ctx context.Context, logger *slog.Logger, snapshot domain.RunResult) {
	if s.runs == nil {
		return
	}
	if err := s.runs.SaveRun(context.WithoutCancel(ctx), snapshot); err != nil {
		logger.Warn("persist run", "state", snapshot.State, "error", err)
	}
}

func (s *Scheduler) notify(ctx context.Context, logger *slog.Logger, message string) {
	if s.notifier == nil || message == "" {
		return
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), message); err != nil {
		logger.Warn("send run notification", "error", err)
	}
}

func buildRunMessage(r domain.RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "NewsDigest run %s: %s (%s)\n", r.RunID, r.OverallStatus, r.State)
	fmt.Fprintf(&b, "Cost: $%.4f, duration: %s\n", r.TotalCost, r.TotalDuration.Round(time.Second))

	composed := map[string]bool{}
	for _, res := range r.ResultsFor(domain.StageCompose) {
		if res.Status == domain.ItemOK {
			composed[res.CandidateID] = true
		}
	}
	for _, c := range r.Shortlist {
		mark := "-"
		if composed[c.ID] {
			mark = "+"
		}
		fmt.Fprintf(&b, "%s [%s] %s\n%s\n", mark, c.Category, c.Title, c.URL)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	if n := len(r.Errors); n > 0 {
		last := r.Errors[n-1]
		fmt.Fprintf(&b, "errors: %d, last at %s: %s\n", n, last.Stage, last.Message)
	}
	return b.String()
}
