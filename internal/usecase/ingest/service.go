package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"autopost/internal/domain"
	"autopost/internal/infra/deadline"
	"autopost/internal/usecase/dedup"
)

// Detector отвечает на вопрос, видели ли мы материал раньше.
type Detector interface {
	IsDuplicate(ctx context.Context, item domain.ContentItem, cfg domain.SimilarityConfig) domain.DuplicateResult
}

// Enricher дополняет материал описанием.
type Enricher interface {
	Enrich(ctx context.Context, item domain.ContentItem) (domain.ContentItem, error)
}

// Ranker упорядочивает кандидатов перед постановкой в очередь.
type Ranker interface {
	Rank(items []domain.ContentItem) []domain.ContentItem
}

// Report — итог одного прохода сбора.
type Report struct {
	Fetched    int `json:"fetched"`
	Enqueued   int `json:"enqueued"`
	Duplicates int `json:"duplicates"`
	Deferred   int `json:"deferred"`
	// FailedItems — материалы, которые не удалось поставить в очередь.
	FailedItems int               `json:"failed_items"`
	Failed      map[string]string `json:"failed,omitempty"`
}

// Options настраивает сбор. MaxPerRun <= 0 снимает ограничение.
type Options struct {
	Similarity    domain.SimilarityConfig
	FetchTimeout  time.Duration
	EnrichTimeout time.Duration
	StoreTimeout  time.Duration
	QueueTimeout  time.Duration
	Ranker        Ranker
	MaxPerRun     int
}

// Service собирает материалы из источников и ставит новые в очередь.
type Service struct {
	sources  []domain.Source
	enricher Enricher
	detector Detector
	queue    domain.IngestQueue
	log      zerolog.Logger
	opts     Options
	now      func() time.Time
}

// NewService создаёт сервис сбора. enricher может быть nil.
func NewService(sources []domain.Source, enricher Enricher, detector Detector, queue domain.IngestQueue, logger zerolog.Logger, opts Options) *Service {
	if opts.Similarity == (domain.SimilarityConfig{}) {
		opts.Similarity = domain.DefaultSimilarityConfig()
	}
	return &Service{
		sources:  sources,
		enricher: enricher,
		detector: detector,
		queue:    queue,
		log:      logger.With().Str("component", "ingest").Logger(),
		opts:     opts,
		now:      time.Now,
	}
}

// RunOnce опрашивает все источники параллельно. Сбой источника попадает в отчёт
// и не прерывает остальные.
func (s *Service) RunOnce(ctx context.Context) (Report, error) {
	batches := make([][]domain.ContentItem, len(s.sources))
	failed := make(map[string]string)
	var mu sync.Mutex

	var g errgroup.Group
	for i, src := range s.sources {
		g.Go(func() error {
			items, err := deadline.Call(ctx, s.opts.FetchTimeout, "fetch_"+src.Name(), src.Fetch)
			if err != nil {
				s.log.Warn().Err(err).Str("source", src.Name()).Msg("источник недоступен")
				mu.Lock()
				failed[src.Name()] = err.Error()
				mu.Unlock()
				return nil
			}
			batches[i] = items
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := Report{}
	if len(failed) > 0 {
		report.Failed = failed
	}
	var candidates []domain.ContentItem
	seen := make(dedup.BatchSeen)
	for _, items := range batches {
		for _, item := range items {
			report.Fetched++
			if seen.Seen(item) {
				report.Duplicates++
				continue
			}
			candidates = append(candidates, item)
		}
	}
	if s.opts.Ranker != nil {
		candidates = s.opts.Ranker.Rank(candidates)
	}

	for _, item := range candidates {
		if s.opts.MaxPerRun > 0 && report.Enqueued >= s.opts.MaxPerRun {
			report.Deferred++
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		item = s.enrich(ctx, item)
		if dup := s.isDuplicate(ctx, item); dup.IsDuplicate {
			report.Duplicates++
			s.log.Debug().Str("url", item.URL).Str("reason", dup.Reason).Msg("дубль пропущен")
			continue
		}
		job := domain.IngestJob{ID: uuid.NewString(), Item: item, EnqueuedAt: s.now().UTC()}
		err := deadline.Run(ctx, s.opts.QueueTimeout, "enqueue", func(ctx context.Context) error {
			return s.queue.Enqueue(ctx, job)
		})
		if err != nil {
			report.FailedItems++
			s.log.Warn().Err(err).Str("url", item.URL).Msg("не удалось поставить материал в очередь")
			continue
		}
		report.Enqueued++
	}
	s.log.Info().
		Int("fetched", report.Fetched).
		Int("enqueued", report.Enqueued).
		Int("duplicates", report.Duplicates).
		Int("deferred", report.Deferred).
		Int("failed_items", report.FailedItems).
		Msg("сбор завершён")
	return report, nil
}

// isDuplicate ограничивает проверку таймаутом хранилища. Таймаут, как и любой
// сбой детектора, пропускает материал дальше.
func (s *Service) isDuplicate(ctx context.Context, item domain.ContentItem) domain.DuplicateResult {
	dup, err := deadline.Call(ctx, s.opts.StoreTimeout, "is_duplicate", func(ctx context.Context) (domain.DuplicateResult, error) {
		return s.detector.IsDuplicate(ctx, item, s.opts.Similarity), nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("url", item.URL).Msg("проверка дубля не уложилась во время, материал считается новым")
		return domain.DuplicateResult{}
	}
	return dup
}

func (s *Service) enrich(ctx context.Context, item domain.ContentItem) domain.ContentItem {
	if s.enricher == nil || item.Description != "" {
		return item
	}
	enriched, err := deadline.Call(ctx, s.opts.EnrichTimeout, "enrich", func(ctx context.Context) (domain.ContentItem, error) {
		return s.enricher.Enrich(ctx, item)
	})
	if err != nil {
		s.log.Debug().Err(err).Str("url", item.URL).Msg("не удалось получить текст статьи")
		return item
	}
	return enriched
}
