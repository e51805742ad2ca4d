package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"autopost/internal/domain"
)

type chanQueue struct {
	jobs chan domain.IngestJob
	mu   sync.Mutex
	acks map[string][]bool
	done chan struct{}
	want int
}

func newChanQueue(want int, jobs ...domain.IngestJob) *chanQueue {
	q := &chanQueue{jobs: make(chan domain.IngestJob, len(jobs)), acks: map[string][]bool{}, done: make(chan struct{}), want: want}
	for _, job := range jobs {
		q.jobs <- job
	}
	return q
}

func (q *chanQueue) Enqueue(_ context.Context, job domain.IngestJob) error {
	q.jobs <- job
	return nil
}

func (q *chanQueue) Receive(ctx context.Context) (domain.IngestJob, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.IngestJob{}, nil, ctx.Err()
	case job := <-q.jobs:
		return job, func(success bool) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			q.acks[job.ID] = append(q.acks[job.ID], success)
			q.want--
			if q.want == 0 {
				close(q.done)
			}
			return nil
		}, nil
	}
}

func (q *chanQueue) Close() error { return nil }

type scriptedProcessor map[string]error

func (p scriptedProcessor) ProcessItem(_ context.Context, item domain.ContentItem) (ItemResult, error) {
	if err := p[item.URL]; err != nil {
		return ItemResult{Item: item, Outcome: OutcomeFailed}, err
	}
	return ItemResult{Item: item, Outcome: OutcomeDrafted, DraftID: "d"}, nil
}

func TestWorkerAcksByOutcome(t *testing.T) {
	q := newChanQueue(3,
		domain.IngestJob{ID: "ok", Item: domain.ContentItem{URL: "https://ok"}},
		domain.IngestJob{ID: "gen", Item: domain.ContentItem{URL: "https://gen"}},
		domain.IngestJob{ID: "long", Item: domain.ContentItem{URL: "https://long"}},
	)
	proc := scriptedProcessor{
		"https://gen":  &domain.GenerationUnavailable{Err: errors.New("503")},
		"https://long": &domain.ValidationError{Length: 300, Limit: 280},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWorker(q, proc, zerolog.Nop())
	finished := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(finished)
	}()

	select {
	case <-q.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("воркер не обработал задачи")
	}
	cancel()
	<-finished

	q.mu.Lock()
	defer q.mu.Unlock()
	if got := q.acks["ok"]; len(got) != 1 || !got[0] {
		t.Fatalf("успешная задача должна быть подтверждена: %v", got)
	}
	if got := q.acks["gen"]; len(got) != 1 || got[0] {
		t.Fatalf("сбой генерации должен вернуть задачу: %v", got)
	}
	if got := q.acks["long"]; len(got) != 1 || !got[0] {
		t.Fatalf("неукладываемый текст снимается с очереди: %v", got)
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	q := newChanQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		NewWorker(q, scriptedProcessor{}, zerolog.Nop()).Run(ctx)
		close(finished)
	}()
	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("воркер не остановился после отмены")
	}
}
