package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"autopost/internal/domain"
	httpinfra "autopost/internal/infra/http"
	"autopost/internal/usecase/budget"
	"autopost/internal/usecase/pipeline"
)

const maxBatchSize = 100

// Pipeline описывает операции конвейера, доступные через API.
type Pipeline interface {
	ProcessBatch(ctx context.Context, items []domain.ContentItem) pipeline.BatchReport
	ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.Draft, error)
	Approve(ctx context.Context, id string) (domain.Draft, error)
	Reject(ctx context.Context, id string, byUser bool) (domain.Draft, error)
}

// Dedup описывает операции детектора дублей, доступные через API.
type Dedup interface {
	IsDuplicate(ctx context.Context, item domain.ContentItem, cfg domain.SimilarityConfig) domain.DuplicateResult
	Stats(ctx context.Context) (domain.DedupStats, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
}

// Handler обслуживает /api/v1.
type Handler struct {
	pipeline      Pipeline
	dedup         Dedup
	similarity    domain.SimilarityConfig
	retentionDays int
	log           zerolog.Logger
}

// New создаёт обработчик API.
func New(p Pipeline, d Dedup, similarity domain.SimilarityConfig, retentionDays int, logger zerolog.Logger) *Handler {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &Handler{
		pipeline:      p,
		dedup:         d,
		similarity:    similarity,
		retentionDays: retentionDays,
		log:           logger.With().Str("component", "httpapi").Logger(),
	}
}

// Mount регистрирует маршруты. auth оборачивает всё, кроме /budget/validate.
func (h *Handler) Mount(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/budget/validate", h.validateBudget)

		api.Group(func(protected chi.Router) {
			if auth != nil {
				protected.Use(auth)
			}
			protected.Get("/drafts", h.listDrafts)
			protected.Post("/drafts/{id}/approve", h.approveDraft)
			protected.Post("/drafts/{id}/reject", h.rejectDraft)
			protected.Post("/pipeline/process", h.processBatch)
			protected.Post("/dedup/check", h.checkDuplicate)
			protected.Get("/dedup/stats", h.dedupStats)
			protected.Post("/dedup/cleanup", h.cleanup)
		})
	})
}

type checkRequest struct {
	Item   domain.ContentItem       `json:"item"`
	Config *domain.SimilarityConfig `json:"config,omitempty"`
}

type budgetRequest struct {
	Body     string   `json:"body"`
	URL      string   `json:"url"`
	Hashtags []string `json:"hashtags"`
	Fit      bool     `json:"fit"`
}

type budgetResponse struct {
	budget.Validation
	Text  string             `json:"text,omitempty"`
	Draft *domain.TweetDraft `json:"draft,omitempty"`
}

type batchRequest struct {
	Items []domain.ContentItem `json:"items"`
}

func (h *Handler) listDrafts(w http.ResponseWriter, r *http.Request) {
	status := domain.DraftStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.DraftPending, domain.DraftPosted, domain.DraftRejected, domain.DraftNeedsReview, domain.DraftPublishing:
	default:
		httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("неизвестный статус %q", status))
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	drafts, err := h.pipeline.ListDrafts(r.Context(), status, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if drafts == nil {
		drafts = []domain.Draft{}
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

func (h *Handler) approveDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.pipeline.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, draft)
}

func (h *Handler) rejectDraft(w http.ResponseWriter, r *http.Request) {
	byUser := false
	if raw := r.URL.Query().Get("by_user"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("by_user: %w", err))
			return
		}
		byUser = v
	}
	draft, err := h.pipeline.Reject(r.Context(), chi.URLParam(r, "id"), byUser)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, draft)
}

func (h *Handler) processBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("items пуст"))
		return
	}
	if len(req.Items) > maxBatchSize {
		httpinfra.WriteError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("не более %d материалов за раз", maxBatchSize))
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, h.pipeline.ProcessBatch(r.Context(), req.Items))
}

func (h *Handler) checkDuplicate(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Item.Title == "" && req.Item.URL == "" {
		httpinfra.WriteError(w, http.StatusBadRequest, errors.New("нужен title или url"))
		return
	}
	cfg := h.similarity
	if req.Config != nil {
		cfg = *req.Config
	}
	httpinfra.WriteJSON(w, http.StatusOK, h.dedup.IsDuplicate(r.Context(), req.Item, cfg))
}

func (h *Handler) dedupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.dedup.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", h.retentionDays)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	removed, err := h.dedup.Cleanup(r.Context(), days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (h *Handler) validateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if !decode(w, r, &req) {
		return
	}
	tags := budget.NormalizeHashtags(req.Hashtags)
	if !req.Fit {
		resp := budgetResponse{Validation: budget.Validate(req.Body, req.URL, tags)}
		httpinfra.WriteJSON(w, http.StatusOK, resp)
		return
	}
	draft, validation, err := budget.Fit(req.Body, req.URL, tags)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, budgetResponse{Validation: validation, Text: draft.Text(), Draft: &draft})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	event := h.log.Warn()
	if status >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.Err(err).
		Str("request_id", httpinfra.RequestID(r)).
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("httpapi: запрос завершился ошибкой")
	httpinfra.WriteError(w, status, err)
}

func statusFor(err error) int {
	var (
		validation *domain.ValidationError
		publish    *domain.PublishError
		storage    *domain.StorageError
		generation *domain.GenerationUnavailable
	)
	switch {
	case errors.Is(err, domain.ErrDraftNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDraftNotPending):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &publish), errors.As(err, &generation):
		return http.StatusBadGateway
	case errors.As(err, &storage):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, fmt.Errorf("некорректное тело запроса: %w", err))
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s должен быть положительным числом", name)
	}
	return v, nil
}
