package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

// RabbitIngestQueue реализует очередь задач через AMQP.
type RabbitIngestQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitIngestQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitIngestQueue(amqpURL, queue string) (*RabbitIngestQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &RabbitIngestQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу как persistent-сообщение.
func (q *RabbitIngestQueue) Enqueue(ctx context.Context, job domain.IngestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID,
		Timestamp:    job.EnqueuedAt,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

func (q *RabbitIngestQueue) consume() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Receive ждёт следующую задачу. Неподтверждённая задача возвращается брокеру.
func (q *RabbitIngestQueue) Receive(ctx context.Context) (domain.IngestJob, domain.AckFunc, error) {
	deliveries, err := q.consume()
	if err != nil {
		return domain.IngestJob{}, nil, err
	}
	select {
	case <-ctx.Done():
		return domain.IngestJob{}, nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.IngestJob{}, nil, errors.New("amqp: delivery channel closed")
		}
		var job domain.IngestJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, false)
			return domain.IngestJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return d.Ack(false)
			}
			// Повторная доставка только для первой попытки, дальше сообщение отбрасывается.
			return d.Nack(false, !d.Redelivered)
		}
		return job, ack, nil
	}
}

// Close закрывает канал и соединение.
func (q *RabbitIngestQueue) Close() error {
	chErr := q.ch.Close()
	connErr := q.conn.Close()
	return errors.Join(chErr, connErr)
}
