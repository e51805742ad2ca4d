package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"autopost/internal/domain"
)

// ItemProcessor обрабатывает один материал.
type ItemProcessor interface {
	ProcessItem(ctx context.Context, item domain.ContentItem) (ItemResult, error)
}

// Worker разбирает очередь задач сборщика.
type Worker struct {
	queue     domain.IngestQueue
	processor ItemProcessor
	log       zerolog.Logger
	backoff   time.Duration
}

// NewWorker создаёт воркер очереди.
func NewWorker(queue domain.IngestQueue, processor ItemProcessor, logger zerolog.Logger) *Worker {
	return &Worker{
		queue:     queue,
		processor: processor,
		log:       logger.With().Str("component", "worker").Logger(),
		backoff:   time.Second,
	}
}

// Run читает задачи до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			if !sleep(ctx, w.backoff) {
				return
			}
			continue
		}
		w.handle(ctx, job, ack)
	}
}

func (w *Worker) handle(ctx context.Context, job domain.IngestJob, ack domain.AckFunc) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Int("attempt", job.Attempt).
		Str("url", job.Item.URL).
		Logger()

	res, err := w.processor.ProcessItem(ctx, job.Item)
	if err != nil && retryable(err) && ctx.Err() == nil {
		jobLog.Warn().Err(err).Msg("worker: задача завершилась ошибкой, повторим позже")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
		}
		return
	}
	if err != nil && ctx.Err() != nil {
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу при остановке")
		}
		return
	}
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: материал не помещается в лимит, задача снята")
	} else {
		jobLog.Info().Str("outcome", string(res.Outcome)).Str("draft_id", res.DraftID).Msg("worker: задача обработана")
	}
	if ackErr := ack(true); ackErr != nil {
		jobLog.Error().Err(ackErr).Msg("worker: не удалось подтвердить задачу")
	}
}

// retryable: повтор не поможет только тексту, который не укладывается в лимит.
func retryable(err error) bool {
	var validation *domain.ValidationError
	return !errors.As(err, &validation)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
