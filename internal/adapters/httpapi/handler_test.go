package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"autopost/internal/domain"
	"autopost/internal/usecase/pipeline"
)

type stubPipeline struct {
	drafts     []domain.Draft
	status     domain.DraftStatus
	limit      int
	approveErr error
	rejectedBy *bool
	batch      []domain.ContentItem
}

func (s *stubPipeline) ProcessBatch(_ context.Context, items []domain.ContentItem) pipeline.BatchReport {
	s.batch = items
	return pipeline.BatchReport{Drafted: len(items)}
}

func (s *stubPipeline) ListDrafts(_ context.Context, status domain.DraftStatus, limit int) ([]domain.Draft, error) {
	s.status, s.limit = status, limit
	return s.drafts, nil
}

func (s *stubPipeline) Approve(_ context.Context, id string) (domain.Draft, error) {
	if s.approveErr != nil {
		return domain.Draft{}, s.approveErr
	}
	return domain.Draft{ID: id, Status: domain.DraftPosted, PostID: "1"}, nil
}

func (s *stubPipeline) Reject(_ context.Context, id string, byUser bool) (domain.Draft, error) {
	s.rejectedBy = &byUser
	return domain.Draft{ID: id, Status: domain.DraftRejected}, nil
}

type stubDedup struct {
	cfg     domain.SimilarityConfig
	days    int
	statErr error
}

func (s *stubDedup) IsDuplicate(_ context.Context, item domain.ContentItem, cfg domain.SimilarityConfig) domain.DuplicateResult {
	s.cfg = cfg
	return domain.DuplicateResult{IsDuplicate: item.URL == "https://dup.example", Reason: "URL already processed", Similarity: 1}
}

func (s *stubDedup) Stats(context.Context) (domain.DedupStats, error) {
	return domain.DedupStats{TotalProcessed: 3}, s.statErr
}

func (s *stubDedup) Cleanup(_ context.Context, days int) (int64, error) {
	s.days = days
	return 7, nil
}

func newRouter(p *stubPipeline, d *stubDedup, auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	New(p, d, domain.DefaultSimilarityConfig(), 30, zerolog.Nop()).Mount(r, auth)
	return r
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestListDrafts(t *testing.T) {
	p := &stubPipeline{}
	r := newRouter(p, &stubDedup{}, nil)

	rec := do(r, http.MethodGet, "/api/v1/drafts?status=pending&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if p.status != domain.DraftPending || p.limit != 10 {
		t.Fatalf("параметры не переданы: %q %d", p.status, p.limit)
	}
	if !strings.Contains(rec.Body.String(), `"drafts":[]`) {
		t.Fatalf("пустой список должен быть массивом: %s", rec.Body.String())
	}

	if rec := do(r, http.MethodGet, "/api/v1/drafts?status=archived", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("неизвестный статус: ожидали 400, получили %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/api/v1/drafts?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("отрицательный limit: ожидали 400, получили %d", rec.Code)
	}
}

func TestApproveErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{domain.ErrDraftNotFound, http.StatusNotFound},
		{domain.ErrDraftNotPending, http.StatusConflict},
		{&domain.ValidationError{Length: 300, Limit: 280}, http.StatusUnprocessableEntity},
		{&domain.PublishError{Platform: "x", Err: errors.New("403")}, http.StatusBadGateway},
		{&domain.StorageError{Op: "get", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{&domain.TimeoutError{Op: "publish"}, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newRouter(&stubPipeline{approveErr: tc.err}, &stubDedup{}, nil)
		rec := do(r, http.MethodPost, "/api/v1/drafts/d1/approve", "")
		if rec.Code != tc.want {
			t.Fatalf("ошибка %v: ожидали %d, получили %d", tc.err, tc.want, rec.Code)
		}
	}
}

func TestRejectByUser(t *testing.T) {
	p := &stubPipeline{}
	r := newRouter(p, &stubDedup{}, nil)

	if rec := do(r, http.MethodPost, "/api/v1/drafts/d1/reject?by_user=true", ""); rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	if p.rejectedBy == nil || !*p.rejectedBy {
		t.Fatalf("by_user не передан")
	}
	if rec := do(r, http.MethodPost, "/api/v1/drafts/d1/reject?by_user=maybe", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("ожидали 400, получили %d", rec.Code)
	}
}

func TestCheckDuplicate(t *testing.T) {
	d := &stubDedup{}
	r := newRouter(&stubPipeline{}, d, nil)

	rec := do(r, http.MethodPost, "/api/v1/dedup/check", `{"item":{"title":"t","url":"https://dup.example"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var res domain.DuplicateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("ответ не разобран: %v", err)
	}
	if !res.IsDuplicate {
		t.Fatalf("ожидали дубль")
	}
	if d.cfg != domain.DefaultSimilarityConfig() {
		t.Fatalf("без config должны применяться пороги по умолчанию: %+v", d.cfg)
	}

	do(r, http.MethodPost, "/api/v1/dedup/check", `{"item":{"title":"t"},"config":{"title_similarity_threshold":0.5,"content_similarity_threshold":0.4,"time_window_hours":12}}`)
	if d.cfg.TimeWindowHours != 12 || d.cfg.TitleSimilarityThreshold != 0.5 {
		t.Fatalf("пороги из запроса не применены: %+v", d.cfg)
	}

	if rec := do(r, http.MethodPost, "/api/v1/dedup/check", `{"item":{}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("пустой материал: ожидали 400, получили %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/api/v1/dedup/check", `{`); rec.Code != http.StatusBadRequest {
		t.Fatalf("битый JSON: ожидали 400, получили %d", rec.Code)
	}
}

func TestStatsAndCleanup(t *testing.T) {
	d := &stubDedup{}
	r := newRouter(&stubPipeline{}, d, nil)

	if rec := do(r, http.MethodGet, "/api/v1/dedup/stats", ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_processed":3`) {
		t.Fatalf("неожиданный ответ статистики: %d %s", rec.Code, rec.Body.String())
	}

	rec := do(r, http.MethodPost, "/api/v1/dedup/cleanup", "")
	if rec.Code != http.StatusOK || d.days != 30 {
		t.Fatalf("ожидали очистку за 30 дней, получили %d дней, код %d", d.days, rec.Code)
	}
	do(r, http.MethodPost, "/api/v1/dedup/cleanup?days=7", "")
	if d.days != 7 {
		t.Fatalf("days не передан: %d", d.days)
	}

	d.statErr = &domain.StorageError{Op: "aggregate", Err: errors.New("down")}
	if rec := do(r, http.MethodGet, "/api/v1/dedup/stats", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидали 503, получили %d", rec.Code)
	}
}

func TestBudgetValidate(t *testing.T) {
	r := newRouter(&stubPipeline{}, &stubDedup{}, nil)

	rec := do(r, http.MethodPost, "/api/v1/budget/validate", `{"body":"hello","url":"https://x.co"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
	var resp budgetResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ответ не разобран: %v", err)
	}
	if !resp.Valid || resp.Length != 19 || resp.Remaining != 261 {
		t.Fatalf("неожиданная оценка: %+v", resp.Validation)
	}

	long := strings.Repeat("a", 400)
	rec = do(r, http.MethodPost, "/api/v1/budget/validate", `{"body":"`+long+`","url":"https://x.co","fit":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("fit: ожидали 200, получили %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ответ не разобран: %v", err)
	}
	if !resp.Valid || resp.Draft == nil || resp.Length > 280 {
		t.Fatalf("текст не уложен в лимит: %+v", resp.Validation)
	}
}

func TestProcessBatch(t *testing.T) {
	p := &stubPipeline{}
	r := newRouter(p, &stubDedup{}, nil)

	rec := do(r, http.MethodPost, "/api/v1/pipeline/process", `{"items":[{"title":"a","url":"https://a"},{"title":"b","url":"https://b"}]}`)
	if rec.Code != http.StatusOK || len(p.batch) != 2 {
		t.Fatalf("пачка не обработана: %d, %d материалов", rec.Code, len(p.batch))
	}
	if rec := do(r, http.MethodPost, "/api/v1/pipeline/process", `{"items":[]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("пустая пачка: ожидали 400, получили %d", rec.Code)
	}
}

func TestProtectedRoutesUseAuth(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	r := newRouter(&stubPipeline{}, &stubDedup{}, deny)

	if rec := do(r, http.MethodGet, "/api/v1/drafts", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("drafts без токена: ожидали 401, получили %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/api/v1/budget/validate", `{"body":"x"}`); rec.Code != http.StatusOK {
		t.Fatalf("budget открыт: ожидали 200, получили %d", rec.Code)
	}
}
