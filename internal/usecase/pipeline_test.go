package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NewsDigest/internal/cache"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/stagerun"
)

var refTime = time.Date(2025, time.November, 8, 7, 0, 0, 0, time.UTC)

type stubSource struct {
	candidates []domain.Candidate
	err        error
	calls      atomic.Int32
}

func (s *stubSource) Fetch(context.Context, []string, time.Duration) ([]domain.Candidate, error) {
	s.calls.Add(1)
	return s.candidates, s.err
}

type stubProducer struct {
	stage  domain.Stage
	cost   float64
	fail   func(domain.WorkItem) error
	before func()
	calls  atomic.Int32
}

func (s *stubProducer) Produce(_ context.Context, item domain.WorkItem, _ map[string]string) (domain.Artifact, error) {
	s.calls.Add(1)
	if s.before != nil {
		s.before()
	}
	if s.fail != nil {
		if err := s.fail(item); err != nil {
			return domain.Artifact{}, err
		}
	}
	return domain.Artifact{Ref: fmt.Sprintf("%s/%s", s.stage, item.Candidate.ID), Cost: s.cost}, nil
}

type stubPublisher struct {
	mu        sync.Mutex
	published []string
}

func (p *stubPublisher) Publish(_ context.Context, composedRef string, meta domain.PublishMetadata) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, composedRef)
	return "msg-" + meta.CandidateID, nil
}

type fixture struct {
	source    *stubSource
	producers map[domain.Stage]*stubProducer
	publisher *stubPublisher
	pipeline  *Pipeline
}

func newFixture(candidates ...domain.Candidate) *fixture {
	f := &fixture{
		source: &stubSource{candidates: candidates},
		producers: map[domain.Stage]*stubProducer{
			domain.StageScript:    {stage: domain.StageScript, cost: 0.01},
			domain.StageImage:     {stage: domain.StageImage, cost: 0.04},
			domain.StageNarration: {stage: domain.StageNarration, cost: 0.02},
			domain.StageCompose:   {stage: domain.StageCompose, cost: 0.03},
		},
		publisher: &stubPublisher{},
	}
	producers := make(map[domain.Stage]ports.Producer, len(f.producers))
	for stage, p := range f.producers {
		producers[stage] = p
	}
	f.pipeline = NewPipeline(PipelineDeps{
		Source:    f.source,
		Producers: producers,
		Publisher: f.publisher,
		Cache:     cache.New(nil, nil),
	})
	return f
}

func testPolicy() domain.SelectionPolicy {
	p := domain.DefaultPolicy()
	p.ReferenceTime = refTime
	return p
}

func testStageConfig() StageConfig {
	cfg := DefaultStageConfig()
	cfg.Retry = stagerun.RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		CallTimeout: time.Second,
	}
	return cfg
}

func newsItem(id, category string, tier domain.Tier, age time.Duration) domain.Candidate {
	return domain.Candidate{
		ID:          id,
		Title:       "Weekly update " + id,
		Body:        strings.Repeat("model ", 500),
		URL:         "https://news.example.com/" + id,
		Source:      "example",
		Category:    category,
		Tier:        tier,
		PublishedAt: refTime.Add(-age),
	}
}

func scenarioPool() []domain.Candidate {
	var pool []domain.Candidate
	for i := 0; i < 8; i++ {
		pool = append(pool, newsItem(fmt.Sprintf("it-%d", i), "it", domain.TierBreaking, time.Duration(i)*time.Hour))
	}
	for i := 0; i < 4; i++ {
		pool = append(pool, newsItem(fmt.Sprintf("biz-%d", i), "business", domain.TierMinor, time.Duration(i)*time.Hour))
	}
	return pool
}

func countCategories(list []domain.ScoredCandidate) map[string]int {
	out := map[string]int{}
	for _, c := range list {
		out[c.Category]++
	}
	return out
}

func permanentFor(ids ...string) func(domain.WorkItem) error {
	return func(item domain.WorkItem) error {
		for _, id := range ids {
			if item.Candidate.ID == id {
				return domain.Permanent("rejected "+id, nil)
			}
		}
		return nil
	}
}

func TestRunScenarioSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(scenarioPool()...)
	res, err := f.pipeline.Run(context.Background(), testPolicy(), testStageConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, res.State)
	assert.Equal(t, domain.StatusSuccess, res.OverallStatus)
	assert.Equal(t, map[string]int{"it": 4, "business": 1}, countCategories(res.Shortlist))
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.NotEmpty(t, res.RunID)
	for _, stage := range []domain.Stage{domain.StageSelect, domain.StageScript, domain.StageImage, domain.StageNarration, domain.StageCompose} {
		assert.Len(t, res.ResultsFor(stage), 5, stage)
	}
	assert.Empty(t, res.ResultsFor(domain.StagePublish))
	assert.InDelta(t, 5*(0.01+0.04+0.02+0.03), res.TotalCost, 1e-9)
	assert.GreaterOrEqual(t, res.TotalDuration, time.Duration(0))
}

func TestRunReusesCachedArtifacts(t *testing.T) {
	t.Parallel()

	f := newFixture(scenarioPool()...)
	_, err := f.pipeline.Run(context.Background(), testPolicy(), testStageConfig())
	require.NoError(t, err)

	second, err := f.pipeline.Run(context.Background(), testPolicy(), testStageConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.StatusSuccess, second.OverallStatus)
	assert.Zero(t, second.TotalCost)
	for _, res := range second.StageResults {
		if res.Stage == domain.StageSelect {
			continue
		}
		assert.True(t, res.CacheHit, "%s %s", res.Stage, res.CandidateID)
	}
	assert.Equal(t, int32(5), f.producers[domain.StageScript].calls.Load())
}

func TestRunAbortsWhenEveryScriptFails(t *testing.T) {
	t.Parallel()

	f := newFixture(scenarioPool()...)
	f.producers[domain.StageScript].fail = func(domain.WorkItem) error {
		return domain.Permanent("model refused", nil)
	}

	res, err := f.pipeline.Run(context.Background(), testPolicy(), testStageConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.RunAborted, res.State)
	assert.Equal(t, domain.StatusFailed, res.OverallStatus)
	assert.Len(t, res.ResultsFor(domain.StageScript), 5)
	for _, stage := range []domain.Stage{domain.StageImage, domain.StageNarration, domain.StageCompose, domain.StagePublish} {
		assert.Empty(t, res.ResultsFor(stage), stage)
	}
	assert.Zero(t, f.producers[domain.StageImage].calls.Load())
	require.Len(t, res.Errors, 6)
	assert.Equal(t, "permanent", res.Errors[0].Kind)
	assert.Equal(t, "aborted", res.Errors[5].Kind)
}

func TestRunCarriesOnlySuccessfulItemsForward(t *testing.T) {
	t.Parallel()

	f := newFixture(scenarioPool()...)
	f.producers[domain.StageImage].fail = permanentFor("it-0")

	res, err := f.pipeline.Run(context.Background(), testPolicy(), testStageConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, res.State)
	assert.Equal(t, domain.StatusPartial, res.OverallStatus)
	assert.Len(t, res.ResultsFor(domain.StageImage), 5)
	assert.Len(t, res.ResultsFor(domain.StageNarration), 4)
	assert.Len(t, res.ResultsFor(domain.StageCompose), 4)
	for _, r := range res.ResultsFor(domain.StageCompose) {
		assert.NotEqual(t, "it-0", r.CandidateID)
	}
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.StageImage, res.Errors[0].Stage)
	assert.Equal(t, "it-0", res.Errors[0].CandidateID)
}

func TestRunAbortsAboveFailureThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(scenarioPool()...)
	f.producers[domain.StageImage].fail = permanentFor("it-0")
	cfg := testStageConfig()
	cfg.AbortThreshold = 0.1

	res, err := f.pipeline.Run(context.Background(), testPolicy(), cfg)
	require.NoError(t, err)

	assert.Equal(t, domain.RunAborted, res.State)
	assert.Equal(t, domain.StageImage, res.CurrentStage)
	assert.Equal(t, domain.StatusFailed, res.OverallStatus)
	assert.Empty(t, res.ResultsFor(domain.StageNarration))
}

func TestRunProducesSharedFingerprintOnce(t *testing.T) {
	t.Parallel()

	a := newsItem("a", "it", domain.TierMajor, time.Hour)
	a.Title = "Robot Arm Unveiled"
	b := newsItem("b", "it", domain.TierMajor, 2*time.Hour)
	b.Title = "  robot arm   UNVEILED "

	f := newFixture(a, b)
	policy := testPolicy()
	policy.Quotas = nil

	res, err := f.pipeline.Run(context.Background(), policy, testStageConfig())
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.producers[domain.StageImage].calls.Load())
	images := res.ResultsFor(domain.StageImage)
	require.Len(t, images, 2)
	assert.Equal(t, images[0].ArtifactRef, images[1].ArtifactRef)
	assert.InDelta(t, 0.04, images[0].Cost+images[1].Cost, 1e-9)
	assert.Equal(t, domain.StatusSuccess, res.OverallStatus)
}

func TestRunPublishesComposedItems(t *testing.T) {
	t.Parallel()

	f := newFixture(scenarioPool()...)
	cfg := testStageConfig()
	cfg.Publish = true

	res, err := f.pipeline.Run(context.Background(), testPolicy(), cfg)
	require.NoError(t, err)

	published := res.ResultsFor(domain.StagePublish)
	require.Len(t, published, 5)
	for _, r := range published {
		assert.Equal(t, "msg-"+r.CandidateID, r.ArtifactRef)
	}
	assert.Len(t, f.publisher.published, 5)
	assert.Contains(t, f.publisher.published, "compose/it-0")
	assert.Equal(t, domain.StatusSuccess, res.OverallStatus)
}

func TestRunStopsBetweenStagesWhenCancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(newsItem("solo", "it", domain.TierMajor, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.producers[domain.StageScript].before = cancel

	policy := testPolicy()
	policy.Quotas = nil

	res, err := f.pipeline.Run(ctx, policy, testStageConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.RunAborted, res.State)
	assert.Equal(t, domain.StageImage, res.CurrentStage)
	require.Len(t, res.ResultsFor(domain.StageScript), 1)
	assert.Equal(t, domain.ItemOK, res.ResultsFor(domain.StageScript)[0].Status)
	assert.Empty(t, res.ResultsFor(domain.StageImage))
	assert.Equal(t, "cancelled", res.Errors[0].Kind)
}

func TestRunReportsQuotaWarnings(t *testing.T) {
	t.Parallel()

	var pool []domain.Candidate
	for i := 0; i < 6; i++ {
		pool = append(pool, newsItem(fmt.Sprintf("it-%d", i), "it", domain.TierMajor, time.Duration(i)*time.Hour))
	}
	f := newFixture(pool...)

	res, err := f.pipeline.Run(context.Background(), testPolicy(), testStageConfig())
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "business")
	assert.Equal(t, domain.StatusSuccess, res.OverallStatus)
	assert.Len(t, res.Shortlist, 4)
}

func TestRunAbortsWhenFetchFails(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.source.err = domain.Transient("fetch", errors.New("all sources down"))

	res, err := f.pipeline.Run(context.Background(), testPolicy(), testStageConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.RunAborted, res.State)
	assert.Equal(t, domain.StatusFailed, res.OverallStatus)
	assert.Equal(t, domain.StageSelect, res.CurrentStage)
	assert.Zero(t, f.producers[domain.StageScript].calls.Load())
}

func TestRunAbortsOnEmptyShortlist(t *testing.T) {
	t.Parallel()

	f := newFixture(newsItem("old", "it", domain.TierBreaking, 100*time.Hour))

	res, err := f.pipeline.Run(context.Background(), testPolicy(), testStageConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.RunAborted, res.State)
	assert.Empty(t, res.Shortlist)
	assert.Equal(t, domain.StatusFailed, res.OverallStatus)
}

func TestRunRejectsInvalidConfigurationBeforeFetching(t *testing.T) {
	t.Parallel()

	f := newFixture(scenarioPool()...)
	policy := testPolicy()
	policy.Weights.Importance = 0.9

	_, err := f.pipeline.Run(context.Background(), policy, testStageConfig())
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	cfg := testStageConfig()
	cfg.AbortThreshold = 2
	_, err = f.pipeline.Run(context.Background(), testPolicy(), cfg)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	bare := NewPipeline(PipelineDeps{Source: f.source})
	_, err = bare.Run(context.Background(), testPolicy(), testStageConfig())
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	assert.Zero(t, f.source.calls.Load())
}

func TestExecuteReportsProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(scenarioPool()...)
	var states []domain.RunState
	var stages []domain.Stage
	res, err := f.pipeline.Execute(context.Background(), "run-1", testPolicy(), testStageConfig(), func(r domain.RunResult) {
		states = append(states, r.State)
		if r.State == domain.RunRunning && (len(stages) == 0 || stages[len(stages)-1] != r.CurrentStage) {
			stages = append(stages, r.CurrentStage)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, domain.RunPending, states[0])
	assert.Equal(t, domain.RunCompleted, states[len(states)-1])
	assert.Equal(t, []domain.Stage{
		domain.StageSelect, domain.StageScript, domain.StageImage, domain.StageNarration, domain.StageCompose,
	}, stages)
}
