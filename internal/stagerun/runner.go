// Package stagerun executes one pipeline stage over the shortlist with bounded concurrency and retry.
package stagerun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"NewsDigest/internal/cache"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Config controls one stage execution.
type Config struct {
	MaxConcurrency int
	Retry          RetryPolicy
	Options        map[string]string
}

// DefaultConfig keeps three calls in flight.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 3, Retry: DefaultRetryPolicy()}
}

// Validate checks concurrency and retry settings.
func (c Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return domain.Configuration("max concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	return c.Retry.Validate()
}

// Runner applies a producer to every item of a stage through the content cache.
type Runner struct {
	cache  *cache.Cache
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
	now    func() time.Time
}

// NewRunner wires the shared cache.
func NewRunner(c *cache.Cache, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		cache:  c,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// RunStage returns one result per item, in item order. Item failures are recorded, never returned.
// Once ctx is cancelled, items that have not started are skipped; calls already in flight finish.
func (r *Runner) RunStage(ctx context.Context, stage domain.Stage, items []domain.WorkItem, producer ports.Producer, cfg Config) []domain.StageResult {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	results := make([]domain.StageResult, len(items))
	callCtx := context.WithoutCancel(ctx)
	started := r.now()

	r.logger.Info("stage started", "stage", stage, "items", len(items), "max_concurrency", cfg.MaxConcurrency)

	var g errgroup.Group
	g.SetLimit(cfg.MaxConcurrency)
	for i, item := range items {
		if out, ok, err := r.cache.Peek(ctx, stage, item.Payload); err != nil {
			r.logger.Warn("cache peek failed", "stage", stage, "candidate_id", item.Candidate.ID, "error", err)
		} else if ok {
			results[i] = domain.StageResult{
				CandidateID: item.Candidate.ID,
				Stage:       stage,
				Status:      domain.ItemOK,
				ArtifactRef: out.ArtifactRef,
				CacheHit:    true,
			}
			continue
		}

		if ctx.Err() != nil {
			results[i] = skipped(item, stage, ctx.Err())
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = skipped(item, stage, ctx.Err())
				return nil
			}
			results[i] = r.runItem(callCtx, ctx, stage, item, producer, cfg)
			return nil
		})
	}
	_ = g.Wait()

	r.logStage(stage, results, r.now().Sub(started))
	return results
}

func (r *Runner) runItem(
	ctx, parent context.Context,
	stage domain.Stage,
	item domain.WorkItem,
	producer ports.Producer,
	cfg Config,
) domain.StageResult {
	start := r.now()
	result := domain.StageResult{CandidateID: item.Candidate.ID, Stage: stage}

	var attempts atomic.Int32
	out, err := r.cache.GetOrCreate(ctx, stage, item.Payload, func(ctx context.Context) (domain.Artifact, error) {
		return r.withRetry(ctx, parent, cfg.Retry, func(callCtx context.Context) (domain.Artifact, error) {
			attempts.Add(1)
			return producer.Produce(callCtx, item, cfg.Options)
		})
	})

	result.Duration = r.now().Sub(start)
	result.Attempts = int(attempts.Load())
	if err != nil {
		result.Status = domain.ItemFailed
		result.Error = err.Error()
		result.ErrorKind = domain.ErrorKind(err)
		r.logger.Warn("item failed",
			"stage", stage,
			"candidate_id", item.Candidate.ID,
			"attempts", result.Attempts,
			"kind", domain.ErrorKind(err),
			"error", err)
		return result
	}

	result.Status = domain.ItemOK
	result.ArtifactRef = out.ArtifactRef
	result.Cost = out.Cost
	result.CacheHit = out.Hit
	return result
}

// withRetry runs call until it succeeds, fails permanently or runs out of attempts.
// Backoff waits observe parent so a cancelled run stops issuing new paid calls.
func (r *Runner) withRetry(
	ctx, parent context.Context,
	policy RetryPolicy,
	call func(context.Context) (domain.Artifact, error),
) (domain.Artifact, error) {
	maxAttempts := max(policy.MaxAttempts, 1)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(parent, policy.Backoff(attempt-1)); err != nil {
				return domain.Artifact{}, fmt.Errorf("retry interrupted after %d attempts: %w", attempt, lastErr)
			}
		}

		artifact, err := r.callOnce(ctx, policy.CallTimeout, call)
		if err == nil {
			return artifact, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return domain.Artifact{}, err
		}
		r.logger.Debug("transient failure", "attempt", attempt+1, "max_attempts", maxAttempts, "error", err)
	}
	return domain.Artifact{}, fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}

func (r *Runner) callOnce(ctx context.Context, timeout time.Duration, call func(context.Context) (domain.Artifact, error)) (domain.Artifact, error) {
	if timeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	artifact, err := call(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !domain.IsTransient(err) && !errors.Is(err, domain.ErrPermanent) {
		err = domain.Transient("call timed out", err)
	}
	return artifact, err
}

func (r *Runner) logStage(stage domain.Stage, results []domain.StageResult, elapsed time.Duration) {
	var ok, failed, skippedCount, hits int
	var cost float64
	for _, res := range results {
		switch res.Status {
		case domain.ItemOK:
			ok++
		case domain.ItemFailed:
			failed++
		case domain.ItemSkipped:
			skippedCount++
		}
		if res.CacheHit {
			hits++
		}
		cost += res.Cost
	}

	level := slog.LevelInfo
	msg := "stage completed"
	if failed > 0 && ok == 0 {
		level = slog.LevelWarn
		msg = "stage failed"
	}
	r.logger.Log(context.Background(), level, msg,
		"stage", stage,
		"ok", ok,
		"failed", failed,
		"skipped", skippedCount,
		"cache_hits", hits,
		"cost", cost,
		"duration", elapsed)
}

func skipped(item domain.WorkItem, stage domain.Stage, cause error) domain.StageResult {
	return domain.StageResult{
		CandidateID: item.Candidate.ID,
		Stage:       stage,
		Status:      domain.ItemSkipped,
		Error:       fmt.Sprintf("not started: %v", cause),
		ErrorKind:   domain.ErrorKind(cause),
	}
}
