package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"autopost/internal/domain"
	"autopost/internal/infra/deadline"
	"autopost/internal/infra/metrics"
	"autopost/internal/usecase/budget"
	"autopost/internal/usecase/dedup"
)

// Detector — часть детектора дублей, нужная конвейеру.
type Detector interface {
	IsDuplicate(ctx context.Context, item domain.ContentItem, cfg domain.SimilarityConfig) domain.DuplicateResult
	RecordProcessed(ctx context.Context, item domain.ContentItem, reason domain.DispositionReason) error
}

// Outcome — итог обработки одного материала.
type Outcome string

const (
	OutcomeDrafted   Outcome = "drafted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
)

const reasonBatchDuplicate = "Duplicate within batch"

// ItemResult описывает обработку материала.
type ItemResult struct {
	Item    domain.ContentItem `json:"item"`
	Outcome Outcome            `json:"outcome"`
	Reason  string             `json:"reason,omitempty"`
	DraftID string             `json:"draft_id,omitempty"`
	Error   string             `json:"error,omitempty"`
	Err     error              `json:"-"`
}

// BatchReport содержит сводку по пачке.
type BatchReport struct {
	Results    []ItemResult `json:"results"`
	Drafted    int          `json:"drafted"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
}

// Timeouts ограничивает внешние вызовы.
type Timeouts struct {
	Generate time.Duration
	Publish  time.Duration
	Store    time.Duration
}

// Options настраивает сервис.
type Options struct {
	Similarity  domain.SimilarityConfig
	Timeouts    Timeouts
	Concurrency int
}

// Service превращает материалы в черновики и публикует одобренные.
type Service struct {
	detector  Detector
	generator domain.TextCompletion
	publisher domain.Publisher
	drafts    domain.DraftRepo
	log       zerolog.Logger
	opts      Options
	now       func() time.Time
}

// NewService создаёт сервис конвейера.
func NewService(detector Detector, generator domain.TextCompletion, publisher domain.Publisher, drafts domain.DraftRepo, logger zerolog.Logger, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Similarity == (domain.SimilarityConfig{}) {
		opts.Similarity = domain.DefaultSimilarityConfig()
	}
	return &Service{
		detector:  detector,
		generator: generator,
		publisher: publisher,
		drafts:    drafts,
		log:       logger.With().Str("component", "pipeline").Logger(),
		opts:      opts,
		now:       time.Now,
	}
}

// ProcessBatch обрабатывает материалы параллельно. Сбой одного материала
// не влияет на остальные.
func (s *Service) ProcessBatch(ctx context.Context, items []domain.ContentItem) BatchReport {
	results := make([]ItemResult, len(items))
	seen := make(dedup.BatchSeen, 2*len(items))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, item := range items {
		if seen.Seen(item) {
			results[i] = ItemResult{Item: item, Outcome: OutcomeDuplicate, Reason: reasonBatchDuplicate}
			continue
		}
		g.Go(func() error {
			res, err := s.ProcessItem(ctx, item)
			if err != nil {
				res.Outcome = OutcomeFailed
				res.Err = err
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := BatchReport{Results: results}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeDrafted:
			report.Drafted++
		case OutcomeDuplicate:
			report.Duplicates++
		default:
			report.Failed++
		}
	}
	return report
}

// ProcessItem проверяет материал на дубль, генерирует текст, укладывает его
// в лимит и сохраняет черновик на модерацию.
func (s *Service) ProcessItem(ctx context.Context, item domain.ContentItem) (ItemResult, error) {
	res := ItemResult{Item: item}

	dup, err := deadline.Call(ctx, s.opts.Timeouts.Store, "is_duplicate", func(ctx context.Context) (domain.DuplicateResult, error) {
		return s.detector.IsDuplicate(ctx, item, s.opts.Similarity), nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		// Проверка дублей не блокирует конвейер, как и внутри детектора.
		s.log.Warn().Err(err).Str("url", item.URL).Msg("проверка дублей прервана, материал считается новым")
	}
	if dup.IsDuplicate {
		res.Outcome = OutcomeDuplicate
		res.Reason = dup.Reason
		metrics.DraftsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return res, nil
	}

	raw, err := deadline.Call(ctx, s.opts.Timeouts.Generate, "generate", func(ctx context.Context) (string, error) {
		return s.generator.Complete(ctx, buildPrompt(item))
	})
	if err != nil {
		metrics.DraftsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		return res, fmt.Errorf("генерация текста: %w", err)
	}

	body, tags := parseGeneration(raw)
	tweet, validation, err := budget.Fit(body, item.URL, tags)
	if err != nil {
		metrics.DraftsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		return res, fmt.Errorf("укладка в лимит: %w", err)
	}
	metrics.BudgetDegradations.Observe(float64(len(budget.NormalizeHashtags(tags)) - len(tweet.Hashtags)))

	now := s.now().UTC()
	draft := domain.Draft{
		ID:        uuid.NewString(),
		Item:      item,
		Tweet:     tweet,
		Length:    validation.Length,
		Status:    domain.DraftPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := deadline.Run(ctx, s.opts.Timeouts.Store, "create_draft", func(ctx context.Context) error {
		return s.drafts.CreateDraft(ctx, draft)
	}); err != nil {
		metrics.DraftsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		return res, &domain.StorageError{Op: "create_draft", Err: err}
	}
	res.Outcome = OutcomeDrafted
	res.DraftID = draft.ID
	metrics.DraftsTotal.WithLabelValues(string(OutcomeDrafted)).Inc()

	// Черновик уже сохранён: сбой записи отпечатка не откатывает результат.
	if err := s.record(ctx, item, domain.ReasonGenerated); err != nil {
		s.log.Error().Err(err).Str("draft_id", draft.ID).Msg("не удалось записать отпечаток материала")
		res.Err = err
		res.Error = err.Error()
	}
	s.log.Info().Str("draft_id", draft.ID).Str("source", item.Source).Int("length", validation.Length).Msg("черновик создан")
	return res, nil
}

// ListDrafts возвращает черновики в статусе status, по умолчанию pending.
func (s *Service) ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.Draft, error) {
	if status == "" {
		status = domain.DraftPending
	}
	drafts, err := deadline.Call(ctx, s.opts.Timeouts.Store, "list_drafts", func(ctx context.Context) ([]domain.Draft, error) {
		return s.drafts.ListDrafts(ctx, status, limit)
	})
	if err != nil {
		return nil, &domain.StorageError{Op: "list_drafts", Err: err}
	}
	return drafts, nil
}

// Approve публикует черновик. Длина проверяется до обращения к площадке;
// при сбое публикации черновик уходит в needs_review.
func (s *Service) Approve(ctx context.Context, id string) (domain.Draft, error) {
	draft, err := s.reviewable(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}

	validation := budget.ValidateDraft(draft.Tweet)
	if !validation.Valid {
		return draft, &domain.ValidationError{Length: validation.Length, Limit: budget.Limit}
	}
	// Захват: второе одобрение или отказ, пришедшие во время публикации, получат ErrDraftNotPending.
	if err := s.transition(ctx, id, domain.DraftPublishing); err != nil {
		return draft, err
	}

	result, err := deadline.Call(ctx, s.opts.Timeouts.Publish, "publish", func(ctx context.Context) (domain.PublishResult, error) {
		return s.publisher.Publish(ctx, draft.Tweet.Text())
	})
	if err != nil {
		draft.Status = domain.DraftNeedsReview
		draft.LastError = err.Error()
		// По таймауту запрос мог дойти до площадки, повторное одобрение даст второй пост.
		var te *domain.TimeoutError
		if errors.As(err, &te) {
			draft.LastError = unconfirmedPublishNote + err.Error()
			s.log.Warn().Str("draft_id", id).Msg("публикация не подтверждена, пост мог уйти: проверьте ленту перед повтором")
		}
		if uerr := s.updateStatus(ctx, draft); uerr != nil {
			s.log.Error().Err(uerr).Str("draft_id", id).Msg("не удалось отметить черновик для проверки")
		}
		s.log.Warn().Err(err).Str("draft_id", id).Msg("публикация не удалась")
		return draft, fmt.Errorf("публикация: %w", err)
	}

	draft.Status = domain.DraftPosted
	draft.PostID = result.ID
	draft.LastError = ""
	if err := s.updateStatus(ctx, draft); err != nil {
		return draft, err
	}
	if err := s.record(ctx, draft.Item, domain.ReasonApproved); err != nil {
		s.log.Error().Err(err).Str("draft_id", id).Msg("не удалось записать отпечаток одобренного материала")
	}
	s.log.Info().Str("draft_id", id).Str("post_id", result.ID).Msg("черновик опубликован")
	return draft, nil
}

const unconfirmedPublishNote = "публикация не подтверждена, проверьте ленту перед повтором: "

// Reject отклоняет черновик. byUser различает ручной отказ и отказ модерации.
func (s *Service) Reject(ctx context.Context, id string, byUser bool) (domain.Draft, error) {
	draft, err := s.reviewable(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}
	if err := s.transition(ctx, id, domain.DraftRejected); err != nil {
		return draft, err
	}
	draft.Status = domain.DraftRejected
	reason := domain.ReasonRejected
	if byUser {
		reason = domain.ReasonUserRejected
	}
	if err := s.record(ctx, draft.Item, reason); err != nil {
		return draft, err
	}
	return draft, nil
}

func (s *Service) reviewable(ctx context.Context, id string) (domain.Draft, error) {
	draft, err := deadline.Call(ctx, s.opts.Timeouts.Store, "get_draft", func(ctx context.Context) (domain.Draft, error) {
		return s.drafts.GetDraft(ctx, id)
	})
	if errors.Is(err, domain.ErrDraftNotFound) {
		return domain.Draft{}, err
	}
	if err != nil {
		return domain.Draft{}, &domain.StorageError{Op: "get_draft", Err: err}
	}
	if draft.Status != domain.DraftPending && draft.Status != domain.DraftNeedsReview {
		return draft, domain.ErrDraftNotPending
	}
	return draft, nil
}

func (s *Service) updateStatus(ctx context.Context, draft domain.Draft) error {
	err := deadline.Run(ctx, s.opts.Timeouts.Store, "update_draft", func(ctx context.Context) error {
		return s.drafts.UpdateDraftStatus(ctx, draft.ID, draft.Status, draft.PostID, draft.LastError)
	})
	if err != nil && !errors.Is(err, domain.ErrDraftNotFound) {
		return &domain.StorageError{Op: "update_draft", Err: err}
	}
	return err
}

func (s *Service) transition(ctx context.Context, id string, to domain.DraftStatus) error {
	err := deadline.Run(ctx, s.opts.Timeouts.Store, "transition_draft", func(ctx context.Context) error {
		return s.drafts.TransitionDraft(ctx, id, domain.ReviewableStatuses, to)
	})
	if err != nil && !errors.Is(err, domain.ErrDraftNotPending) && !errors.Is(err, domain.ErrDraftNotFound) {
		return &domain.StorageError{Op: "transition_draft", Err: err}
	}
	return err
}

func (s *Service) record(ctx context.Context, item domain.ContentItem, reason domain.DispositionReason) error {
	return deadline.Run(ctx, s.opts.Timeouts.Store, "record_processed", func(ctx context.Context) error {
		return s.detector.RecordProcessed(ctx, item, reason)
	})
}
