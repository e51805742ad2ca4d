package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

// DefaultMaxAttempts — сколько раз задача возвращается в очередь до переноса в dead-список.
const DefaultMaxAttempts = 3

// RedisIngestQueue реализует очередь задач на Redis lists. Взятая задача
// лежит в списке processing, пока её не подтвердят.
type RedisIngestQueue struct {
	client      *redis.Client
	key         string
	maxAttempts int
	pollTimeout time.Duration
}

// NewRedisIngestQueue создаёт очередь по указанному ключу.
func NewRedisIngestQueue(client *redis.Client, key string) *RedisIngestQueue {
	return &RedisIngestQueue{client: client, key: key, maxAttempts: DefaultMaxAttempts, pollTimeout: time.Second}
}

func (q *RedisIngestQueue) processingKey() string { return q.key + ":processing" }

func (q *RedisIngestQueue) deadKey() string { return q.key + ":dead" }

// Enqueue публикует задачу в очередь.
func (q *RedisIngestQueue) Enqueue(ctx context.Context, job domain.IngestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "enqueue", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisIngestQueue) Receive(ctx context.Context) (domain.IngestJob, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.IngestJob{}, nil, err
		}
		raw, err := q.client.BLMove(ctx, q.key, q.processingKey(), "RIGHT", "LEFT", q.pollTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.IngestJob{}, nil, ctx.Err()
				}
				continue
			}
			return domain.IngestJob{}, nil, err
		}
		var job domain.IngestJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			_ = q.client.LRem(ctx, q.processingKey(), 1, raw).Err()
			_ = q.client.LPush(ctx, q.deadKey(), raw).Err()
			return domain.IngestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, q.ack(raw, job), nil
	}
}

func (q *RedisIngestQueue) ack(raw string, job domain.IngestJob) domain.AckFunc {
	return func(success bool) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.processingKey(), 1, raw)
		if !success {
			job.Attempt++
			payload, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("marshal job: %w", err)
			}
			if job.Attempt >= q.maxAttempts {
				pipe.LPush(ctx, q.deadKey(), payload)
			} else {
				pipe.LPush(ctx, q.key, payload)
			}
		}
		start := time.Now()
		_, err := pipe.Exec(ctx)
		metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
		return err
	}
}

// Close ничего не делает: клиентом Redis владеет вызывающий код.
func (q *RedisIngestQueue) Close() error { return nil }
