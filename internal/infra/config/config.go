package config

import (
	"errors"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// StoreBackend: postgres или sqlite.
	StoreBackend string `envconfig:"STORE_BACKEND" default:"postgres"`
	PGDSN        string `envconfig:"PG_DSN"`
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"autopost.db"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Dedup struct {
		TitleThreshold   float64       `envconfig:"DEDUP_TITLE_THRESHOLD" default:"0.8"`
		ContentThreshold float64       `envconfig:"DEDUP_CONTENT_THRESHOLD" default:"0.6"`
		WindowHours      float64       `envconfig:"DEDUP_WINDOW_HOURS" default:"48"`
		CacheTTL         time.Duration `envconfig:"DEDUP_CACHE_TTL" default:"10m"`
		RetentionDays    int           `envconfig:"DEDUP_RETENTION_DAYS" default:"30"`
		CleanupCron      string        `envconfig:"DEDUP_CLEANUP_CRON" default:"30 3 * * *"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Publish struct {
		// Platform: x или telegram.
		Platform        string        `envconfig:"PUBLISH_PLATFORM" default:"x"`
		Timeout         time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"15s"`
		XBearerToken    string        `envconfig:"X_BEARER_TOKEN"`
		XBaseURL        string        `envconfig:"X_BASE_URL"`
		XPostsPerMinute float64       `envconfig:"X_POSTS_PER_MINUTE" default:"1"`
		TGToken         string        `envconfig:"TG_BOT_TOKEN"`
		TGChannel       string        `envconfig:"TG_CHANNEL"`
	} `envconfig:""`

	Sources struct {
		RSSFeeds      []string      `envconfig:"RSS_FEEDS"`
		GitHubQuery   string        `envconfig:"GITHUB_QUERY" default:"stars:>200"`
		GitHubToken   string        `envconfig:"GITHUB_TOKEN"`
		GitHubEnabled bool          `envconfig:"GITHUB_ENABLED" default:"true"`
		FetchTimeout  time.Duration `envconfig:"SOURCE_FETCH_TIMEOUT" default:"20s"`
		Enrich        bool          `envconfig:"SOURCE_ENRICH" default:"true"`
		CollectCron   string        `envconfig:"COLLECT_CRON" default:"*/30 * * * *"`
		MaxPerRun     int           `envconfig:"COLLECT_MAX_PER_RUN" default:"20"`
	} `envconfig:""`

	Pipeline struct {
		Concurrency  int           `envconfig:"PIPELINE_CONCURRENCY" default:"4"`
		StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	} `envconfig:""`

	Moderation struct {
		BotToken      string  `envconfig:"MODERATION_BOT_TOKEN"`
		AdminIDs      []int64 `envconfig:"MODERATION_ADMIN_IDS"`
		WebhookSecret string  `envconfig:"MODERATION_WEBHOOK_SECRET"`
	} `envconfig:""`

	Auth struct {
		JWTSecret string `envconfig:"JWT_SECRET"`
	} `envconfig:""`

	Queues struct {
		// Backend: redis или rabbitmq.
		Backend string `envconfig:"QUEUE_BACKEND" default:"redis"`
		Ingest  string `envconfig:"INGEST_QUEUE_KEY" default:"ingest_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse читает конфиг из окружения и возвращает ошибку вместо остановки процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// IsDev сообщает, запущены ли мы в локальном окружении.
func (c AppConfig) IsDev() bool {
	return c.AppEnv == "dev"
}

// ValidateAPIAuth требует JWT_SECRET везде, кроме dev.
func (c AppConfig) ValidateAPIAuth() error {
	if c.Auth.JWTSecret == "" && !c.IsDev() {
		return errors.New("JWT_SECRET обязателен вне dev")
	}
	return nil
}

// ValidateModeration требует список модераторов и секрет вебхука везде, кроме dev.
func (c AppConfig) ValidateModeration() error {
	if c.IsDev() {
		return nil
	}
	var errs []error
	if len(c.Moderation.AdminIDs) == 0 {
		errs = append(errs, errors.New("MODERATION_ADMIN_IDS обязателен вне dev"))
	}
	if c.Moderation.WebhookSecret == "" {
		errs = append(errs, errors.New("MODERATION_WEBHOOK_SECRET обязателен вне dev"))
	}
	return errors.Join(errs...)
}
