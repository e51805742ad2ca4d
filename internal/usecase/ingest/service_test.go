package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"autopost/internal/domain"
)

type stubSource struct {
	name  string
	items []domain.ContentItem
	err   error
}

func (s stubSource) Name() string { return s.name }
func (s stubSource) Fetch(context.Context) ([]domain.ContentItem, error) {
	return s.items, s.err
}

type stubDetector struct{ dupURLs map[string]bool }

func (d stubDetector) IsDuplicate(_ context.Context, item domain.ContentItem, _ domain.SimilarityConfig) domain.DuplicateResult {
	if d.dupURLs[item.URL] {
		return domain.DuplicateResult{IsDuplicate: true, Reason: "URL already processed"}
	}
	return domain.DuplicateResult{}
}

type stubEnricher struct{ calls int }

func (e *stubEnricher) Enrich(_ context.Context, item domain.ContentItem) (domain.ContentItem, error) {
	e.calls++
	item.Description = "enriched"
	return item, nil
}

type memQueue struct {
	mu    sync.Mutex
	jobs  []domain.IngestJob
	err   error
	calls int
	// failOn задаёт номер вызова (с 1), который вернёт ошибку.
	failOn int
}

func (q *memQueue) Enqueue(_ context.Context, job domain.IngestJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.err != nil {
		return q.err
	}
	if q.failOn == q.calls {
		return errors.New("transient")
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *memQueue) Receive(context.Context) (domain.IngestJob, domain.AckFunc, error) {
	return domain.IngestJob{}, nil, errors.New("not used")
}

func (q *memQueue) Close() error { return nil }

func TestRunOnceEnqueuesNewItems(t *testing.T) {
	rss := stubSource{name: "techcrunch", items: []domain.ContentItem{
		{Title: "AI startup raises", URL: "https://tc.example/a", Source: "techcrunch", Description: "money"},
		{Title: "Old news", URL: "https://tc.example/old", Source: "techcrunch"},
	}}
	gh := stubSource{name: "github", items: []domain.ContentItem{
		{Title: "acme/widget", URL: "https://github.com/acme/widget", Source: "github"},
		{Title: "AI startup raises", URL: "https://tc.example/a", Source: "github"},
	}}
	broken := stubSource{name: "news_api", err: errors.New("503")}
	enricher := &stubEnricher{}
	queue := &memQueue{}
	svc := NewService([]domain.Source{rss, gh, broken}, enricher, stubDetector{dupURLs: map[string]bool{"https://tc.example/old": true}}, queue, zerolog.Nop(), Options{FetchTimeout: time.Second})

	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Fetched != 4 || report.Enqueued != 2 || report.Duplicates != 2 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if report.Failed["news_api"] == "" {
		t.Fatalf("сбой источника должен попасть в отчёт: %+v", report.Failed)
	}
	if len(queue.jobs) != 2 || queue.jobs[0].ID == "" {
		t.Fatalf("неожиданные задачи: %+v", queue.jobs)
	}
	if queue.jobs[1].Item.Description != "enriched" {
		t.Fatalf("материал без описания должен обогащаться: %+v", queue.jobs[1].Item)
	}
	if enricher.calls != 2 {
		t.Fatalf("ожидали два обогащения (old и widget), получили %d", enricher.calls)
	}
}

func TestRunOnceQueueFailureDoesNotAbortRun(t *testing.T) {
	src := stubSource{name: "rss", items: []domain.ContentItem{
		{Title: "one", URL: "https://x.example/1", Description: "d"},
		{Title: "two", URL: "https://x.example/2", Description: "d"},
		{Title: "three", URL: "https://x.example/3", Description: "d"},
	}}
	queue := &memQueue{failOn: 2}
	svc := NewService([]domain.Source{src}, nil, stubDetector{}, queue, zerolog.Nop(), Options{QueueTimeout: time.Second})

	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("сбой одного материала не должен прерывать сбор: %v", err)
	}
	if report.Enqueued != 2 || report.FailedItems != 1 || queue.calls != 3 {
		t.Fatalf("неожиданный отчёт: %+v, вызовов %d", report, queue.calls)
	}
	if queue.jobs[1].Item.Title != "three" {
		t.Fatalf("третий материал должен попасть в очередь: %+v", queue.jobs)
	}
}

type slowDetector struct{}

func (slowDetector) IsDuplicate(context.Context, domain.ContentItem, domain.SimilarityConfig) domain.DuplicateResult {
	time.Sleep(200 * time.Millisecond)
	return domain.DuplicateResult{IsDuplicate: true}
}

func TestRunOnceDetectorTimeoutFailsOpen(t *testing.T) {
	src := stubSource{name: "rss", items: []domain.ContentItem{{Title: "slow", URL: "https://x.example/slow", Description: "d"}}}
	queue := &memQueue{}
	svc := NewService([]domain.Source{src}, nil, slowDetector{}, queue, zerolog.Nop(), Options{StoreTimeout: 20 * time.Millisecond})

	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Enqueued != 1 || report.Duplicates != 0 {
		t.Fatalf("после таймаута детектора материал считается новым: %+v", report)
	}
}

func TestRunOnceSameURLDifferentTitleInOneRun(t *testing.T) {
	a := stubSource{name: "rss", items: []domain.ContentItem{{Title: "Original headline", URL: "https://x.example/same", Description: "d"}}}
	b := stubSource{name: "news_api", items: []domain.ContentItem{
		{Title: "Rewritten headline", URL: "https://x.example/same", Description: "d"},
		{Title: "Original headline", URL: "https://mirror.example/other", Description: "d"},
	}}
	queue := &memQueue{}
	svc := NewService([]domain.Source{a, b}, nil, stubDetector{}, queue, zerolog.Nop(), Options{})

	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Enqueued != 1 || report.Duplicates != 2 {
		t.Fatalf("совпадение ссылки или заголовка внутри прохода должно отсекаться: %+v", report)
	}
}

type reverseRanker struct{}

func (reverseRanker) Rank(items []domain.ContentItem) []domain.ContentItem {
	out := make([]domain.ContentItem, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
	}
	return out
}

func TestRunOnceRanksAndCaps(t *testing.T) {
	src := stubSource{name: "rss", items: []domain.ContentItem{
		{Title: "first", URL: "https://x.example/1", Description: "d"},
		{Title: "second", URL: "https://x.example/2", Description: "d"},
		{Title: "third", URL: "https://x.example/3", Description: "d"},
	}}
	queue := &memQueue{}
	svc := NewService([]domain.Source{src}, nil, stubDetector{}, queue, zerolog.Nop(), Options{Ranker: reverseRanker{}, MaxPerRun: 2})

	report, err := svc.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Enqueued != 2 || report.Deferred != 1 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if queue.jobs[0].Item.Title != "third" || queue.jobs[1].Item.Title != "second" {
		t.Fatalf("очередь должна идти в порядке ранжирования: %s, %s", queue.jobs[0].Item.Title, queue.jobs[1].Item.Title)
	}
}
