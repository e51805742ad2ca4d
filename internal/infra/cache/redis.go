package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

const defaultRedisPrefix = "autopost:dedup:window"

// RedisWindow кэширует выборку окна давности в Redis, общем для всех воркеров.
// Сброс увеличивает счётчик версии, поэтому старые ключи просто истекают по TTL.
type RedisWindow struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisWindow создаёт кэш.
func NewRedisWindow(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisWindow {
	return &RedisWindow{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    ttl,
		log:    logger.With().Str("component", "window_cache").Logger(),
	}
}

func (c *RedisWindow) versionKey() string {
	return c.prefix + ":version"
}

func (c *RedisWindow) version(ctx context.Context) (int64, error) {
	version, err := c.client.Get(ctx, c.versionKey()).Int64()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return version, nil
}

func (c *RedisWindow) keyFor(version int64, window time.Duration) string {
	return fmt.Sprintf("%s:v%d:%d", c.prefix, version, int64(window/time.Second))
}

func (c *RedisWindow) dataKey(ctx context.Context, window time.Duration) (string, error) {
	version, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	return c.keyFor(version, window), nil
}

// Get возвращает выборку. Любая ошибка Redis считается промахом.
func (c *RedisWindow) Get(ctx context.Context, window time.Duration) ([]domain.FingerprintRecord, bool) {
	key, err := c.dataKey(ctx, window)
	if err != nil {
		c.log.Warn().Err(err).Msg("не удалось прочитать версию кэша")
		metrics.WindowCacheLookups.WithLabelValues("redis", "error").Inc()
		return nil, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.WindowCacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("не удалось прочитать кэш окна")
		metrics.WindowCacheLookups.WithLabelValues("redis", "error").Inc()
		return nil, false
	}
	var records []domain.FingerprintRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("повреждённая запись кэша окна")
		metrics.WindowCacheLookups.WithLabelValues("redis", "error").Inc()
		return nil, false
	}
	metrics.WindowCacheLookups.WithLabelValues("redis", "hit").Inc()
	return records, true
}

// Version возвращает текущую версию кэша или -1, если Redis недоступен.
func (c *RedisWindow) Version(ctx context.Context) int64 {
	version, err := c.version(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("не удалось прочитать версию кэша")
		return -1
	}
	return version
}

// Set сохраняет выборку с TTL под ключом версии, прочитанной до запроса к
// хранилищу. Если версию успели поднять, ключ уже никто не прочитает.
func (c *RedisWindow) Set(ctx context.Context, window time.Duration, version int64, records []domain.FingerprintRecord) {
	if version < 0 {
		return
	}
	key := c.keyFor(version, window)
	raw, err := json.Marshal(records)
	if err != nil {
		c.log.Warn().Err(err).Msg("не удалось сериализовать выборку")
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("не удалось записать кэш окна")
	}
}

// Invalidate делает все сохранённые выборки недоступными.
func (c *RedisWindow) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, c.versionKey()).Err(); err != nil {
		c.log.Warn().Err(err).Msg("не удалось сбросить кэш окна")
	}
}
