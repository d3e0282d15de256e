package ports

import (
	"context"
	"time"

	"NewsDigest/internal/domain"
)

// CandidateSource pulls fresh candidates from upstream news sites.
// A failing source must not prevent candidates of other sources from being returned.
type CandidateSource interface {
	Fetch(ctx context.Context, sourceIDs []string, maxAge time.Duration) ([]domain.Candidate, error)
}

// Producer generates one stage artifact. Errors wrap domain.ErrTransient or domain.ErrPermanent.
type Producer interface {
	Produce(ctx context.Context, item domain.WorkItem, options map[string]string) (domain.Artifact, error)
}

// Publisher pushes a composed artifact to the publish target and returns its external id.
type Publisher interface {
	Publish(ctx context.Context, composedRef string, metadata domain.PublishMetadata) (string, error)
}

// CacheStore persists cache entries. Insert never overwrites an existing key.
type CacheStore interface {
	Lookup(ctx context.Context, key string) (domain.CacheEntry, bool, error)
	Insert(ctx context.Context, entry domain.CacheEntry) error
}

// RunRepository persists run results for history and status polling.
type RunRepository interface {
	SaveRun(ctx context.Context, run domain.RunResult) error
	GetRun(ctx context.Context, runID string) (domain.RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunResult, error)
}

// RunLock guards against a second process starting a run.
type RunLock interface {
	TryLock(ctx context.Context, wait bool) (bool, error)
	Unlock() error
}

// Notifier streams run summaries to chat channels.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
