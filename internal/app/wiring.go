// Package app собирает адаптеры по конфигурации для точек входа cmd/*.
package app

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"autopost/internal/adapters/generator"
	"autopost/internal/adapters/publisher"
	"autopost/internal/adapters/repo"
	"autopost/internal/adapters/sources"
	"autopost/internal/domain"
	"autopost/internal/infra/cache"
	"autopost/internal/infra/config"
	"autopost/internal/infra/db"
	"autopost/internal/infra/openai"
	"autopost/internal/infra/queue"
	"autopost/internal/usecase/pipeline"
)

// Stores объединяет хранилища отпечатков и черновиков одного бэкенда.
type Stores struct {
	Fingerprints domain.FingerprintStore
	Drafts       domain.DraftRepo
	close        func()
}

// Close освобождает соединения.
func (s Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores подключает postgres (с миграциями) или sqlite.
func OpenStores(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (Stores, error) {
	switch cfg.StoreBackend {
	case "postgres":
		if cfg.PGDSN == "" {
			return Stores{}, errors.New("не указан PG_DSN")
		}
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			return Stores{}, err
		}
		version, err := db.Migrate(pool)
		if err != nil {
			pool.Close()
			return Stores{}, fmt.Errorf("миграции: %w", err)
		}
		logger.Info().Uint("schema_version", version).Msg("store: postgres готов")
		pg := repo.NewPostgres(pool)
		return Stores{Fingerprints: pg, Drafts: pg, close: pool.Close}, nil
	case "sqlite":
		lite, err := repo.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return Stores{}, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("store: sqlite готов")
		return Stores{Fingerprints: lite, Drafts: lite, close: func() { _ = lite.Close() }}, nil
	}
	return Stores{}, fmt.Errorf("неизвестный STORE_BACKEND %q", cfg.StoreBackend)
}

// Redis возвращает клиента или nil, если REDIS_ADDR не задан.
func Redis(cfg config.AppConfig) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// WindowCache выбирает redis, если он есть, иначе кэш в памяти процесса.
func WindowCache(cfg config.AppConfig, client *redis.Client, logger zerolog.Logger) domain.WindowCache {
	if client != nil {
		return cache.NewRedisWindow(client, cfg.Dedup.CacheTTL, logger)
	}
	return cache.NewMemoryWindow(cfg.Dedup.CacheTTL)
}

// IngestQueue открывает очередь задач выбранного бэкенда.
func IngestQueue(cfg config.AppConfig, client *redis.Client) (domain.IngestQueue, error) {
	switch cfg.Queues.Backend {
	case "redis":
		if client == nil {
			return nil, errors.New("очередь redis требует REDIS_ADDR")
		}
		return queue.NewRedisIngestQueue(client, cfg.Queues.Ingest), nil
	case "rabbitmq":
		if cfg.RabbitURL == "" {
			return nil, errors.New("не указан RABBITMQ_URL")
		}
		return queue.NewRabbitIngestQueue(cfg.RabbitURL, cfg.Queues.Ingest)
	}
	return nil, fmt.Errorf("неизвестный QUEUE_BACKEND %q", cfg.Queues.Backend)
}

// Generator возвращает OpenAI-генератор или заглушку без ключа.
func Generator(cfg config.AppConfig, logger zerolog.Logger) domain.TextCompletion {
	if cfg.OpenAI.APIKey == "" {
		logger.Warn().Msg("generator: OPENAI_API_KEY не задан, используется заглушка")
		return generator.NewStub()
	}
	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	return generator.NewOpenAI(client, cfg.OpenAI.Model)
}

// Publisher создаёт публикатор площадки.
func Publisher(cfg config.AppConfig) (domain.Publisher, error) {
	switch cfg.Publish.Platform {
	case "x":
		if cfg.Publish.XBearerToken == "" {
			return nil, errors.New("не указан X_BEARER_TOKEN")
		}
		return publisher.NewX(cfg.Publish.XBearerToken, cfg.Publish.XBaseURL, cfg.Publish.XPostsPerMinute), nil
	case "telegram":
		if cfg.Publish.TGToken == "" || cfg.Publish.TGChannel == "" {
			return nil, errors.New("нужны TG_BOT_TOKEN и TG_CHANNEL")
		}
		bot, err := tgbotapi.NewBotAPI(cfg.Publish.TGToken)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		return publisher.NewTelegram(bot, cfg.Publish.TGChannel), nil
	}
	return nil, fmt.Errorf("неизвестный PUBLISH_PLATFORM %q", cfg.Publish.Platform)
}

// Sources собирает источники из RSS_FEEDS и GitHub. Некорректные ленты пропускаются.
func Sources(cfg config.AppConfig, logger zerolog.Logger) []domain.Source {
	list := make([]domain.Source, 0, len(cfg.Sources.RSSFeeds)+1)
	for _, feed := range cfg.Sources.RSSFeeds {
		src, err := sources.NewRSS(feed, cfg.Sources.FetchTimeout)
		if err != nil {
			logger.Warn().Err(err).Str("feed", feed).Msg("sources: лента пропущена")
			continue
		}
		list = append(list, src)
	}
	if cfg.Sources.GitHubEnabled {
		list = append(list, sources.NewGitHub("", cfg.Sources.GitHubToken, cfg.Sources.GitHubQuery, cfg.Sources.FetchTimeout))
	}
	return list
}

// Similarity переводит конфиг в пороги детектора.
func Similarity(cfg config.AppConfig) domain.SimilarityConfig {
	return domain.SimilarityConfig{
		TitleSimilarityThreshold:   cfg.Dedup.TitleThreshold,
		ContentSimilarityThreshold: cfg.Dedup.ContentThreshold,
		TimeWindowHours:            cfg.Dedup.WindowHours,
	}
}

// PipelineOptions собирает настройки конвейера из конфига.
func PipelineOptions(cfg config.AppConfig) pipeline.Options {
	return pipeline.Options{
		Similarity: Similarity(cfg),
		Timeouts: pipeline.Timeouts{
			Generate: cfg.OpenAI.Timeout,
			Publish:  cfg.Publish.Timeout,
			Store:    cfg.Pipeline.StoreTimeout,
		},
		Concurrency: cfg.Pipeline.Concurrency,
	}
}
