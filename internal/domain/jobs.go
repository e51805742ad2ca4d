package domain

import (
	"context"
	"time"
)

// IngestJob — задача на генерацию черновика по материалу.
type IngestJob struct {
	ID         string      `json:"job_id"`
	Item       ContentItem `json:"item"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempt    int         `json:"attempt,omitempty"`
}

// IngestQueue описывает очередь задач между сборщиком и воркером.
type IngestQueue interface {
	Enqueue(ctx context.Context, job IngestJob) error
	Receive(ctx context.Context) (IngestJob, AckFunc, error)
	Close() error
}

// AckFunc подтверждает обработку задачи или возвращает её в очередь.
type AckFunc func(success bool) error
