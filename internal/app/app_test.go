package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"NewsDigest/internal/config"
	"NewsDigest/internal/domain"
	"NewsDigest/internal/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	for _, key := range []string{"NEWSDIGEST_CONFIG", "DATABASE_DRIVER", "DATABASE_DSN", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHANNEL_ID"} {
		t.Setenv(key, "")
	}
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	dir := t.TempDir()
	cfg.Database.DSN = filepath.Join(dir, "newsdigest.db")
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Scheduler.LockFile = filepath.Join(dir, "newsdigest.lock")
	return cfg
}

func TestNewWiresDefaults(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer a.Close()

	runs, err := a.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected empty history, got %d", len(runs))
	}
	if _, err := a.Status(context.Background(), "missing"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestNewRequiresPublishTarget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.Publish = true
	cfg.Notifications.Telegram.BotToken = ""

	_, err := New(context.Background(), cfg, logging.NewNop())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestStageConfigMapsPipelineSection(t *testing.T) {
	t.Parallel()

	sc := StageConfig(config.PipelineConfig{
		MaxConcurrency: 4,
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		CallTimeout:    time.Minute,
		AbortThreshold: 0.5,
		Publish:        true,
		Options:        map[string]map[string]string{"script": {"style": "casual"}},
	})

	if sc.MaxConcurrency != 4 || sc.Retry.MaxAttempts != 5 || sc.Retry.MaxDelay != 10*time.Second {
		t.Fatalf("unexpected stage config %+v", sc)
	}
	if sc.AbortThreshold != 0.5 || !sc.Publish {
		t.Fatalf("unexpected abort/publish settings %+v", sc)
	}
	if sc.Options[domain.StageScript]["style"] != "casual" {
		t.Fatalf("unexpected options %+v", sc.Options)
	}
	if err := sc.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestNewRejectsUnknownScanner(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sites[0].Scanner = "arxiv"

	_, err := New(context.Background(), cfg, logging.NewNop())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
