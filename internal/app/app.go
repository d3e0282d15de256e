package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"NewsDigest/internal/cache"
	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/infrastructure/artifacts"
	"NewsDigest/internal/infrastructure/llm"
	"NewsDigest/internal/infrastructure/lock"
	"NewsDigest/internal/infrastructure/media"
	"NewsDigest/internal/infrastructure/parser"
	"NewsDigest/internal/infrastructure/scheduler"
	"NewsDigest/internal/infrastructure/storage"
	"NewsDigest/internal/infrastructure/telegram"
	"NewsDigest/internal/logging"
	"NewsDigest/internal/ports"
	"NewsDigest/internal/scanner"
	"NewsDigest/internal/stagerun"
	"NewsDigest/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *storage.DB
	scheduler *usecase.Scheduler
	closers   []func() error
}

// New opens storage and builds every adapter the pipeline needs.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	store, err := artifacts.NewFileStore(cfg.Artifacts.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	baseLogger.Debug("artifact store ready", "dir", store.Dir())

	registry := scanner.NewRegistry(
		parser.NewRSSScanner(nil),
		parser.NewListingScanner(nil),
	)
	for _, site := range cfg.Sites {
		if _, err := registry.Resolve(site.Scanner); err != nil {
			a.Close()
			return nil, domain.Configuration("site %s: %v (available: %v)", site.Name, err, registry.Names())
		}
	}
	source := parser.NewStrategySource(registry, cfg.Sites, baseLogger.With("component", "source"))

	producers, err := a.buildProducers(ctx, store)
	if err != nil {
		a.Close()
		return nil, err
	}

	var publisher ports.Publisher
	if cfg.Pipeline.Publish {
		tg := cfg.Notifications.Telegram
		if tg.BotToken == "" || tg.ChannelID == "" {
			a.Close()
			return nil, domain.Configuration("publishing requires telegram botToken and channelId")
		}
		publisher = telegram.NewPublisher(tg.BotToken, tg.ChannelID)
	}

	var notifier ports.Notifier
	if tg := cfg.Notifications.Telegram; tg.BotToken != "" && tg.ChatID != "" {
		notifier = telegram.NewNotifier(tg.BotToken, tg.ChatID)
	}

	driver, err := scheduler.NewDailyScheduler(cfg.Scheduler.RunAt, cfg.Scheduler.Timezone)
	if err != nil {
		a.Close()
		return nil, err
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:    source,
		Producers: producers,
		Publisher: publisher,
		Cache:     cache.New(storage.NewCacheStore(db), baseLogger.With("component", "cache")),
		Logger:    baseLogger.With("component", "pipeline"),
	})

	a.scheduler = usecase.NewScheduler(usecase.SchedulerDeps{
		Driver:   driver,
		Pipeline: pipeline,
		Runs:     storage.NewRunStore(db),
		Lock:     lock.NewFileLock(cfg.Scheduler.LockFile),
		Notifier: notifier,
		Logger:   baseLogger.With("component", "scheduler"),
	}, usecase.SchedulerConfig{
		Policy:          cfg.Policy,
		Stages:          StageConfig(cfg.Pipeline),
		QueueOnConflict: cfg.Scheduler.OnConflict == "queue",
	})

	return a, nil
}

func (a *Application) buildProducers(ctx context.Context, store *artifacts.FileStore) (map[domain.Stage]ports.Producer, error) {
	var script ports.Producer
	if a.cfg.ScriptBackendGemini() {
		gemini, err := llm.NewGeminiProducer(ctx, a.cfg.Producers.Gemini, store)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gemini.Close)
		script = gemini
	} else {
		script = llm.NewChatGPTProducer(a.cfg.Producers.ChatGPT, store)
	}

	mediaClient := media.NewClient(a.cfg.Producers.Media, store)
	return map[domain.Stage]ports.Producer{
		domain.StageScript:    script,
		domain.StageImage:     mediaClient.Producer(domain.StageImage),
		domain.StageNarration: mediaClient.Producer(domain.StageNarration),
		domain.StageCompose:   mediaClient.Producer(domain.StageCompose),
	}, nil
}

// StageConfig maps the pipeline section onto the orchestrator settings.
func StageConfig(p config.PipelineConfig) usecase.StageConfig {
	return usecase.StageConfig{
		MaxConcurrency: p.MaxConcurrency,
		Retry: stagerun.RetryPolicy{
			MaxAttempts: p.MaxAttempts,
			BaseDelay:   p.BaseDelay,
			MaxDelay:    p.MaxDelay,
			CallTimeout: p.CallTimeout,
		},
		AbortThreshold: p.AbortThreshold,
		Publish:        p.Publish,
		Options:        p.StageOptions(),
	}
}

// RunOnce executes one run immediately.
func (a *Application) RunOnce(ctx context.Context) (domain.RunResult, error) {
	return a.scheduler.RunNow(ctx)
}

// Status returns the current or persisted state of runID.
func (a *Application) Status(ctx context.Context, runID string) (domain.RunResult, error) {
	return a.scheduler.Status(ctx, runID)
}

// ListRuns returns the most recent runs.
func (a *Application) ListRuns(ctx context.Context, limit int) ([]domain.RunResult, error) {
	return a.scheduler.ListRuns(ctx, limit)
}

// Serve runs the daily schedule until ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("daemon started",
		"run_at", a.cfg.Scheduler.RunAt,
		"timezone", a.cfg.Scheduler.Timezone,
		"lock", filepath.Clean(a.cfg.Scheduler.LockFile),
	)

	<-ctx.Done()
	a.logger.Info("daemon stopping")
	return a.scheduler.Stop(context.WithoutCancel(ctx))
}

// Close releases storage and API clients.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenHistory opens only the run store, for status queries that need no API clients.
func OpenHistory(ctx context.Context, cfg config.Config) (*storage.RunStore, func() error, error) {
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewRunStore(db), db.Close, nil
}
