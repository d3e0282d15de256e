package stagerun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/cache"
	"NewsDigest/internal/domain"
)

type producerFunc func(ctx context.Context, item domain.WorkItem, options map[string]string) (domain.Artifact, error)

func (f producerFunc) Produce(ctx context.Context, item domain.WorkItem, options map[string]string) (domain.Artifact, error) {
	return f(ctx, item, options)
}

func workItems(n int) []domain.WorkItem {
	items := make([]domain.WorkItem, n)
	for i := range items {
		id := fmt.Sprintf("item-%d", i)
		items[i] = domain.WorkItem{
			Candidate: domain.ScoredCandidate{Candidate: domain.Candidate{ID: id}},
			Payload:   domain.Payload{"id": id},
		}
	}
	return items
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestRunner() (*Runner, *recordedSleeps) {
	rec := &recordedSleeps{}
	r := NewRunner(cache.New(nil, nil), nil)
	r.sleep = rec.sleep
	return r, rec
}

func testConfig() Config {
	return Config{
		MaxConcurrency: 3,
		Retry: RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   10 * time.Millisecond,
			MaxDelay:    40 * time.Millisecond,
			CallTimeout: time.Second,
		},
	}
}

func byID(results []domain.StageResult) map[string]domain.StageResult {
	out := make(map[string]domain.StageResult, len(results))
	for _, r := range results {
		out[r.CandidateID] = r
	}
	return out
}

func TestRunStageBoundsConcurrency(t *testing.T) {
	t.Parallel()

	runner, _ := newTestRunner()
	var inFlight, peak atomic.Int32
	producer := producerFunc(func(ctx context.Context, item domain.WorkItem, _ map[string]string) (domain.Artifact, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		inFlight.Add(-1)
		return domain.Artifact{Ref: "ref-" + item.Candidate.ID, Cost: 0.1}, nil
	})

	results := runner.RunStage(context.Background(), domain.StageScript, workItems(10), producer, testConfig())

	require.Len(t, results, 10)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	for _, res := range results {
		assert.Equal(t, domain.ItemOK, res.Status)
		assert.Equal(t, "ref-"+res.CandidateID, res.ArtifactRef)
		assert.InDelta(t, 0.1, res.Cost, 1e-9)
		assert.Equal(t, 1, res.Attempts)
	}
}

func TestRunStageRetriesTransientFailuresWithBackoff(t *testing.T) {
	t.Parallel()

	runner, rec := newTestRunner()
	var calls atomic.Int32
	producer := producerFunc(func(context.Context, domain.WorkItem, map[string]string) (domain.Artifact, error) {
		if calls.Add(1) < 3 {
			return domain.Artifact{}, domain.Transient("rate limited", nil)
		}
		return domain.Artifact{Ref: "ok", Cost: 0.5}, nil
	})

	results := runner.RunStage(context.Background(), domain.StageImage, workItems(1), producer, testConfig())

	require.Len(t, results, 1)
	assert.Equal(t, domain.ItemOK, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.delays)
}

func TestRunStageDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	runner, rec := newTestRunner()
	producer := producerFunc(func(context.Context, domain.WorkItem, map[string]string) (domain.Artifact, error) {
		return domain.Artifact{}, domain.Permanent("content policy", nil)
	})

	results := runner.RunStage(context.Background(), domain.StageImage, workItems(1), producer, testConfig())

	require.Len(t, results, 1)
	assert.Equal(t, domain.ItemFailed, results[0].Status)
	assert.Equal(t, 1, results[0].Attempts)
	assert.Contains(t, results[0].Error, "content policy")
	assert.Empty(t, rec.delays)
}

func TestRunStageGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	runner, rec := newTestRunner()
	producer := producerFunc(func(context.Context, domain.WorkItem, map[string]string) (domain.Artifact, error) {
		return domain.Artifact{}, domain.Transient("unavailable", errors.New("503"))
	})

	results := runner.RunStage(context.Background(), domain.StageNarration, workItems(1), producer, testConfig())

	assert.Equal(t, domain.ItemFailed, results[0].Status)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Contains(t, results[0].Error, "gave up after 3 attempts")
	assert.Len(t, rec.delays, 2)
}

func TestRunStageTreatsTimeoutAsTransient(t *testing.T) {
	t.Parallel()

	runner, _ := newTestRunner()
	cfg := testConfig()
	cfg.Retry.CallTimeout = 10 * time.Millisecond

	var calls atomic.Int32
	producer := producerFunc(func(ctx context.Context, _ domain.WorkItem, _ map[string]string) (domain.Artifact, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return domain.Artifact{}, errors.New("upstream request aborted")
		}
		return domain.Artifact{Ref: "late", Cost: 1}, nil
	})

	results := runner.RunStage(context.Background(), domain.StageCompose, workItems(1), producer, cfg)

	assert.Equal(t, domain.ItemOK, results[0].Status)
	assert.Equal(t, 2, results[0].Attempts)
}

func TestRunStageIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	runner, _ := newTestRunner()
	producer := producerFunc(func(_ context.Context, item domain.WorkItem, _ map[string]string) (domain.Artifact, error) {
		if item.Candidate.ID == "item-1" {
			return domain.Artifact{}, domain.Permanent("bad input", nil)
		}
		return domain.Artifact{Ref: item.Candidate.ID}, nil
	})

	results := byID(runner.RunStage(context.Background(), domain.StageScript, workItems(4), producer, testConfig()))

	assert.Equal(t, domain.ItemFailed, results["item-1"].Status)
	for _, id := range []string{"item-0", "item-2", "item-3"} {
		assert.Equal(t, domain.ItemOK, results[id].Status, id)
	}
}

func TestRunStageCacheHitSkipsProducer(t *testing.T) {
	t.Parallel()

	runner, _ := newTestRunner()
	items := workItems(1)
	_, err := runner.cache.GetOrCreate(context.Background(), domain.StageImage, items[0].Payload, func(context.Context) (domain.Artifact, error) {
		return domain.Artifact{Ref: "cached", Cost: 0.08}, nil
	})
	require.NoError(t, err)

	producer := producerFunc(func(context.Context, domain.WorkItem, map[string]string) (domain.Artifact, error) {
		t.Fatalf("producer must not be called on a cache hit")
		return domain.Artifact{}, nil
	})

	results := runner.RunStage(context.Background(), domain.StageImage, items, producer, testConfig())

	assert.Equal(t, domain.ItemOK, results[0].Status)
	assert.True(t, results[0].CacheHit)
	assert.Zero(t, results[0].Cost)
	assert.Zero(t, results[0].Attempts)
	assert.Equal(t, "cached", results[0].ArtifactRef)
}

func TestRunStageSharesProductionForIdenticalPayloads(t *testing.T) {
	t.Parallel()

	runner, _ := newTestRunner()
	items := workItems(2)
	items[0].Payload = domain.Payload{"title": "Robot  Arm"}
	items[1].Payload = domain.Payload{"title": "robot arm"}

	var calls atomic.Int32
	producer := producerFunc(func(context.Context, domain.WorkItem, map[string]string) (domain.Artifact, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return domain.Artifact{Ref: "image-1", Cost: 0.08}, nil
	})

	results := runner.RunStage(context.Background(), domain.StageImage, items, producer, testConfig())

	assert.Equal(t, int32(1), calls.Load())
	total := 0.0
	for _, res := range results {
		assert.Equal(t, domain.ItemOK, res.Status)
		assert.Equal(t, "image-1", res.ArtifactRef)
		total += res.Cost
	}
	assert.InDelta(t, 0.08, total, 1e-9)
}

func TestRunStageSkipsItemsAfterCancellation(t *testing.T) {
	t.Parallel()

	runner, _ := newTestRunner()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	producer := producerFunc(func(context.Context, domain.WorkItem, map[string]string) (domain.Artifact, error) {
		t.Fatalf("producer must not be called after cancellation")
		return domain.Artifact{}, nil
	})

	results := runner.RunStage(ctx, domain.StageScript, workItems(3), producer, testConfig())
	for _, res := range results {
		assert.Equal(t, domain.ItemSkipped, res.Status)
	}
}

func TestRunStageLetsInFlightCallsFinishOnCancel(t *testing.T) {
	t.Parallel()

	runner, _ := newTestRunner()
	cfg := testConfig()
	cfg.MaxConcurrency = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producer := producerFunc(func(callCtx context.Context, _ domain.WorkItem, _ map[string]string) (domain.Artifact, error) {
		cancel()
		time.Sleep(5 * time.Millisecond)
		if callCtx.Err() != nil {
			return domain.Artifact{}, callCtx.Err()
		}
		return domain.Artifact{Ref: "finished"}, nil
	})

	results := runner.RunStage(ctx, domain.StageScript, workItems(3), producer, cfg)

	assert.Equal(t, domain.ItemOK, results[0].Status)
	assert.Equal(t, "finished", results[0].ArtifactRef)
	assert.Equal(t, domain.ItemSkipped, results[1].Status)
	assert.Equal(t, domain.ItemSkipped, results[2].Status)
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 5*time.Second, p.Backoff(3))
	assert.Equal(t, 5*time.Second, p.Backoff(64))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MaxConcurrency = 0
	assert.ErrorIs(t, bad.Validate(), domain.ErrConfiguration)

	bad = DefaultConfig()
	bad.Retry.MaxAttempts = 0
	assert.ErrorIs(t, bad.Validate(), domain.ErrConfiguration)
}
