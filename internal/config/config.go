package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"NewsDigest/internal/domain"
)

const (
	defaultTimezone     = "Asia/Seoul"
	configPathEnv       = "NEWSDIGEST_CONFIG"
	logLevelEnv         = "NEWSDIGEST_LOG_LEVEL"
	databaseDriverEnv   = "DATABASE_DRIVER"
	databaseDSNEnv      = "DATABASE_DSN"
	chatGPTAPIKeyEnv    = "OPENAI_API_KEY"
	chatGPTModelEnv     = "CHATGPT_MODEL"
	geminiAPIKeyEnv     = "GEMINI_API_KEY"
	mediaAPIKeyEnv      = "MEDIA_API_KEY"
	telegramTokenEnv    = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv   = "TELEGRAM_CHAT_ID"
	telegramChannelEnv  = "TELEGRAM_CHANNEL_ID"
	scriptBackendGemini = "gemini"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig          `yaml:"logging"`
	Database      DatabaseConfig         `yaml:"database"`
	Artifacts     ArtifactsConfig        `yaml:"artifacts"`
	Scheduler     SchedulerConfig        `yaml:"scheduler"`
	Policy        domain.SelectionPolicy `yaml:"policy"`
	Pipeline      PipelineConfig         `yaml:"pipeline"`
	Producers     ProducerConfig         `yaml:"producers"`
	Notifications NotificationConfig     `yaml:"notifications"`
	Sites         []SiteConfig           `yaml:"sites" validate:"min=1,dive"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
}

// DatabaseConfig describes where cache entries and runs are persisted.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// ArtifactsConfig points at the directory generated scripts are written to.
type ArtifactsConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// SchedulerConfig defines when the daily run fires and how overlapping runs are handled.
type SchedulerConfig struct {
	RunAt      string         `yaml:"runAt" validate:"required"`
	Timezone   string         `yaml:"timezone"`
	LockFile   string         `yaml:"lockFile" validate:"required"`
	OnConflict string         `yaml:"onConflict" validate:"oneof=reject queue"`
	location   *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, err := time.LoadLocation(defaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PipelineConfig tunes stage execution.
type PipelineConfig struct {
	MaxConcurrency int                          `yaml:"maxConcurrency" validate:"min=1"`
	MaxAttempts    int                          `yaml:"maxAttempts" validate:"min=1"`
	BaseDelay      time.Duration                `yaml:"baseDelay" validate:"gte=0"`
	MaxDelay       time.Duration                `yaml:"maxDelay" validate:"gtefield=BaseDelay"`
	CallTimeout    time.Duration                `yaml:"callTimeout" validate:"gte=0"`
	AbortThreshold float64                      `yaml:"abortThreshold" validate:"gte=0,lte=1"`
	Publish        bool                         `yaml:"publish"`
	Options        map[string]map[string]string `yaml:"options"`
}

// StageOptions returns the producer options per stage.
func (p PipelineConfig) StageOptions() map[domain.Stage]map[string]string {
	out := make(map[domain.Stage]map[string]string, len(p.Options))
	for stage, opts := range p.Options {
		out[domain.Stage(stage)] = opts
	}
	return out
}

// ProducerConfig groups the paid generation backends.
type ProducerConfig struct {
	Script  string        `yaml:"script" validate:"oneof=chatgpt gemini"`
	ChatGPT ChatGPTConfig `yaml:"chatgpt"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Media   MediaConfig   `yaml:"media"`
}

// ChatGPTConfig defines how to contact the ChatGPT API.
type ChatGPTConfig struct {
	Endpoint        string  `yaml:"endpoint" validate:"omitempty,url"`
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"apiKey"`
	SystemPrompt    string  `yaml:"systemPrompt"`
	InputPricePerM  float64 `yaml:"inputPricePerM" validate:"gte=0"`
	OutputPricePerM float64 `yaml:"outputPricePerM" validate:"gte=0"`
}

// GeminiConfig defines how to contact the Gemini API.
type GeminiConfig struct {
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"apiKey"`
	SystemPrompt    string  `yaml:"systemPrompt"`
	InputPricePerM  float64 `yaml:"inputPricePerM" validate:"gte=0"`
	OutputPricePerM float64 `yaml:"outputPricePerM" validate:"gte=0"`
}

// MediaConfig describes the image, narration and compose service.
type MediaConfig struct {
	Endpoint string        `yaml:"endpoint" validate:"required,url"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
// ChatID receives run summaries; ChannelID receives published items.
type TelegramConfig struct {
	BotToken  string `yaml:"botToken"`
	ChatID    string `yaml:"chatId"`
	ChannelID string `yaml:"channelId"`
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name       string            `yaml:"name" validate:"required"`
	Scanner    string            `yaml:"scanner" validate:"required"`
	Priority   int               `yaml:"priority" validate:"gte=0"`
	Categories []CategoryConfig  `yaml:"categories" validate:"min=1,dive"`
	Options    map[string]string `yaml:"options"`
}

// CategoryConfig holds the concrete endpoints to crawl and the category they feed.
type CategoryConfig struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// Load reads YAML configuration from path (or NEWSDIGEST_CONFIG when path is empty),
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, domain.Configuration("read %s: %v", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, domain.Configuration("parse %s: %v", path, err)
		}
		var explicit explicitValues
		if err := yaml.Unmarshal(raw, &explicit); err != nil {
			return Config{}, domain.Configuration("parse %s: %v", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
		explicit.apply(&cfg)
	}

	cfg.applyEnvOverrides()
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the selection policy.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return domain.Configuration("%v", err)
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	return nil
}

// ScriptBackendGemini reports whether scripts are generated by Gemini instead of ChatGPT.
func (c Config) ScriptBackendGemini() bool {
	return c.Producers.Script == scriptBackendGemini
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(telegramChannelEnv); v != "" {
		c.Notifications.Telegram.ChannelID = v
	}

	if v := os.Getenv(chatGPTAPIKeyEnv); v != "" {
		c.Producers.ChatGPT.APIKey = v
	}
	if v := os.Getenv(chatGPTModelEnv); v != "" {
		c.Producers.ChatGPT.Model = v
	}
	if v := os.Getenv(geminiAPIKeyEnv); v != "" {
		c.Producers.Gemini.APIKey = v
	}
	if v := os.Getenv(mediaAPIKeyEnv); v != "" {
		c.Producers.Media.APIKey = v
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
		c.Scheduler.Timezone = tz
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return domain.Configuration("unknown timezone %s: %v", tz, err)
	}
	c.Scheduler.location = loc
	return nil
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Artifacts.Dir != "" {
		base.Artifacts.Dir = override.Artifacts.Dir
	}

	if override.Scheduler.RunAt != "" {
		base.Scheduler.RunAt = override.Scheduler.RunAt
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}
	if override.Scheduler.LockFile != "" {
		base.Scheduler.LockFile = override.Scheduler.LockFile
	}
	if override.Scheduler.OnConflict != "" {
		base.Scheduler.OnConflict = override.Scheduler.OnConflict
	}

	base.Policy = mergePolicy(base.Policy, override.Policy)
	base.Pipeline = mergePipeline(base.Pipeline, override.Pipeline)
	base.Producers = mergeProducers(base.Producers, override.Producers)

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}
	if override.Notifications.Telegram.ChannelID != "" {
		base.Notifications.Telegram.ChannelID = override.Notifications.Telegram.ChannelID
	}

	if len(override.Sites) > 0 {
		base.Sites = override.Sites
	}

	return base
}

func mergePolicy(base, override domain.SelectionPolicy) domain.SelectionPolicy {
	if override.TargetCount != 0 {
		base.TargetCount = override.TargetCount
	}
	if override.MinScore != 0 {
		base.MinScore = override.MinScore
	}
	if override.MaxAge != 0 {
		base.MaxAge = override.MaxAge
	}
	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}
	if len(override.Quotas) > 0 {
		base.Quotas = override.Quotas
	}
	if override.Weights != (domain.Weights{}) {
		base.Weights = override.Weights
	}

	h := override.Heuristics
	if len(h.TierScores) > 0 {
		base.Heuristics.TierScores = h.TierScores
	}
	if h.DiversityExponent != 0 {
		base.Heuristics.DiversityExponent = h.DiversityExponent
	}
	if h.Learning != (domain.LearningParams{}) {
		base.Heuristics.Learning = h.Learning
	}
	if len(h.Visual.Keywords) > 0 {
		base.Heuristics.Visual.Keywords = h.Visual.Keywords
	}
	if h.Visual.Default != 0 {
		base.Heuristics.Visual.Default = h.Visual.Default
	}
	if h.Visual.PerKeyword != 0 {
		base.Heuristics.Visual.PerKeyword = h.Visual.PerKeyword
	}
	return base
}

// explicitValues records settings whose zero value is meaningful, so a file can set them to zero.
type explicitValues struct {
	Pipeline struct {
		AbortThreshold *float64 `yaml:"abortThreshold"`
	} `yaml:"pipeline"`
}

func (e explicitValues) apply(cfg *Config) {
	if e.Pipeline.AbortThreshold != nil {
		cfg.Pipeline.AbortThreshold = *e.Pipeline.AbortThreshold
	}
}

func mergePipeline(base, override PipelineConfig) PipelineConfig {
	if override.MaxConcurrency != 0 {
		base.MaxConcurrency = override.MaxConcurrency
	}
	if override.MaxAttempts != 0 {
		base.MaxAttempts = override.MaxAttempts
	}
	if override.BaseDelay != 0 {
		base.BaseDelay = override.BaseDelay
	}
	if override.MaxDelay != 0 {
		base.MaxDelay = override.MaxDelay
	}
	if override.CallTimeout != 0 {
		base.CallTimeout = override.CallTimeout
	}
	if override.AbortThreshold != 0 {
		base.AbortThreshold = override.AbortThreshold
	}
	if override.Publish {
		base.Publish = true
	}
	for stage, opts := range override.Options {
		if base.Options == nil {
			base.Options = map[string]map[string]string{}
		}
		base.Options[stage] = opts
	}
	return base
}

func mergeProducers(base, override ProducerConfig) ProducerConfig {
	if override.Script != "" {
		base.Script = override.Script
	}

	if override.ChatGPT.Endpoint != "" {
		base.ChatGPT.Endpoint = override.ChatGPT.Endpoint
	}
	if override.ChatGPT.Model != "" {
		base.ChatGPT.Model = override.ChatGPT.Model
	}
	if override.ChatGPT.APIKey != "" {
		base.ChatGPT.APIKey = override.ChatGPT.APIKey
	}
	if override.ChatGPT.SystemPrompt != "" {
		base.ChatGPT.SystemPrompt = override.ChatGPT.SystemPrompt
	}
	if override.ChatGPT.InputPricePerM != 0 {
		base.ChatGPT.InputPricePerM = override.ChatGPT.InputPricePerM
	}
	if override.ChatGPT.OutputPricePerM != 0 {
		base.ChatGPT.OutputPricePerM = override.ChatGPT.OutputPricePerM
	}

	if override.Gemini.Model != "" {
		base.Gemini.Model = override.Gemini.Model
	}
	if override.Gemini.APIKey != "" {
		base.Gemini.APIKey = override.Gemini.APIKey
	}
	if override.Gemini.SystemPrompt != "" {
		base.Gemini.SystemPrompt = override.Gemini.SystemPrompt
	}
	if override.Gemini.InputPricePerM != 0 {
		base.Gemini.InputPricePerM = override.Gemini.InputPricePerM
	}
	if override.Gemini.OutputPricePerM != 0 {
		base.Gemini.OutputPricePerM = override.Gemini.OutputPricePerM
	}

	if override.Media.Endpoint != "" {
		base.Media.Endpoint = override.Media.Endpoint
	}
	if override.Media.APIKey != "" {
		base.Media.APIKey = override.Media.APIKey
	}
	if override.Media.Timeout != 0 {
		base.Media.Timeout = override.Media.Timeout
	}
	return base
}

func defaultConfig() Config {
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "auto"},
		Database:  DatabaseConfig{Driver: "sqlite", DSN: "data/newsdigest.db"},
		Artifacts: ArtifactsConfig{Dir: "data/artifacts"},
		Scheduler: SchedulerConfig{
			RunAt:      "07:00",
			Timezone:   defaultTimezone,
			LockFile:   "data/newsdigest.lock",
			OnConflict: "reject",
		},
		Policy: domain.DefaultPolicy(),
		Pipeline: PipelineConfig{
			MaxConcurrency: 3,
			MaxAttempts:    3,
			BaseDelay:      2 * time.Second,
			MaxDelay:       time.Minute,
			CallTimeout:    2 * time.Minute,
			AbortThreshold: 1.0,
			Options: map[string]map[string]string{
				string(domain.StageScript):    {"style": "educational", "duration": "60"},
				string(domain.StageImage):     {"quality": "standard", "size": "1024x1024"},
				string(domain.StageNarration): {"voice": "alloy"},
				string(domain.StageCompose):   {"resolution": "1080x1920"},
			},
		},
		Producers: ProducerConfig{
			Script: "chatgpt",
			ChatGPT: ChatGPTConfig{
				Endpoint:        "https://api.openai.com/v1/chat/completions",
				Model:           "gpt-4o",
				SystemPrompt:    "You write short English-learning news scripts for Korean learners.",
				InputPricePerM:  2.50,
				OutputPricePerM: 10.00,
			},
			Gemini: GeminiConfig{
				Model:           "gemini-1.5-flash",
				SystemPrompt:    "You write short English-learning news scripts for Korean learners.",
				InputPricePerM:  0.075,
				OutputPricePerM: 0.30,
			},
			Media: MediaConfig{Endpoint: "http://localhost:8090/v1", Timeout: 5 * time.Minute},
		},
		Sites: []SiteConfig{
			{
				Name:     "techcrunch",
				Scanner:  "rss",
				Priority: 1,
				Categories: []CategoryConfig{
					{Name: "it", URL: "https://techcrunch.com/feed/"},
				},
			},
			{
				Name:     "theverge",
				Scanner:  "rss",
				Priority: 2,
				Categories: []CategoryConfig{
					{Name: "it", URL: "https://www.theverge.com/rss/index.xml"},
				},
			},
			{
				Name:     "etnews",
				Scanner:  "rss",
				Priority: 3,
				Categories: []CategoryConfig{
					{Name: "business", URL: "https://rss.etnews.com/Section902.xml"},
				},
			},
		},
	}
}

// String renders the effective settings without secrets.
func (c Config) String() string {
	return fmt.Sprintf("db=%s scheduler=%s %s sites=%d script=%s publish=%t",
		c.Database.Driver, c.Scheduler.RunAt, c.Scheduler.Timezone, len(c.Sites), c.Producers.Script, c.Pipeline.Publish)
}
