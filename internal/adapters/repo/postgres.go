package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

// Querier — подмножество pgxpool.Pool, которым пользуется репозиторий.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres реализует хранилище отпечатков и черновиков на Postgres.
type Postgres struct {
	db Querier
}

var (
	_ domain.FingerprintStore = (*Postgres)(nil)
	_ domain.DraftRepo        = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(db Querier) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func hashColumn(kind domain.HashKind) (string, error) {
	switch kind {
	case domain.HashTitle:
		return "title_hash", nil
	case domain.HashURL:
		return "url_hash", nil
	case domain.HashContent:
		return "content_hash", nil
	}
	return "", fmt.Errorf("unknown hash kind %q", kind)
}

const fingerprintColumns = `id, title_hash, url_hash, content_hash, content_sample, title, source, reason, recorded_at`

func scanFingerprint(row pgx.Row) (domain.FingerprintRecord, error) {
	var (
		rec    domain.FingerprintRecord
		reason string
	)
	if err := row.Scan(&rec.ID, &rec.TitleHash, &rec.URLHash, &rec.ContentHash, &rec.ContentSample,
		&rec.Title, &rec.Source, &reason, &rec.RecordedAt); err != nil {
		return domain.FingerprintRecord{}, err
	}
	parsed, err := domain.ParseReason(reason)
	if err != nil {
		return domain.FingerprintRecord{}, err
	}
	rec.Reason = parsed
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec, nil
}

// Insert сохраняет отпечаток. Повтор пары (title_hash, url_hash) игнорируется.
func (p *Postgres) Insert(ctx context.Context, rec domain.FingerprintRecord) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.db.Exec(ctx, `
INSERT INTO fingerprints (`+fingerprintColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (title_hash, url_hash) DO NOTHING
`, rec.ID, rec.TitleHash, rec.URLHash, rec.ContentHash, rec.ContentSample, rec.Title, rec.Source, string(rec.Reason), rec.RecordedAt)
	metrics.ObserveNetworkRequest("postgres", "fingerprints_insert", "fingerprints", start, err)
	return err
}

// FindByHash ищет самую раннюю запись с указанным отпечатком.
func (p *Postgres) FindByHash(ctx context.Context, kind domain.HashKind, hash string) (domain.FingerprintRecord, bool, error) {
	column, err := hashColumn(kind)
	if err != nil {
		return domain.FingerprintRecord{}, false, err
	}
	if hash == "" {
		return domain.FingerprintRecord{}, false, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.db.QueryRow(ctx, `SELECT `+fingerprintColumns+` FROM fingerprints WHERE `+column+`=$1 ORDER BY recorded_at LIMIT 1`, hash)
	rec, err := scanFingerprint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "fingerprints_find_"+string(kind), "fingerprints", start, nil)
		return domain.FingerprintRecord{}, false, nil
	}
	metrics.ObserveNetworkRequest("postgres", "fingerprints_find_"+string(kind), "fingerprints", start, err)
	if err != nil {
		return domain.FingerprintRecord{}, false, err
	}
	return rec, true, nil
}

// HasPair проверяет наличие пары отпечатков.
func (p *Postgres) HasPair(ctx context.Context, titleHash, urlHash string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var exists bool
	err := p.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fingerprints WHERE title_hash=$1 AND url_hash=$2)`, titleHash, urlHash).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "fingerprints_has_pair", "fingerprints", start, err)
	return exists, err
}

// ListRecordedSince возвращает записи с recorded_at не раньше since.
func (p *Postgres) ListRecordedSince(ctx context.Context, since time.Time) ([]domain.FingerprintRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.db.Query(ctx, `SELECT `+fingerprintColumns+` FROM fingerprints WHERE recorded_at >= $1 ORDER BY recorded_at DESC`, since)
	metrics.ObserveNetworkRequest("postgres", "fingerprints_list_window", "fingerprints", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FingerprintRecord
	for rows.Next() {
		rec, err := scanFingerprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteOlderThan удаляет записи старше cutoff.
func (p *Postgres) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.db.Exec(ctx, `DELETE FROM fingerprints WHERE recorded_at < $1`, cutoff)
	metrics.ObserveNetworkRequest("postgres", "fingerprints_delete_old", "fingerprints", start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected(), nil
}

// AggregateBySource считает записи по источникам и причинам.
func (p *Postgres) AggregateBySource(ctx context.Context) (map[string]domain.SourceStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.db.Query(ctx, `
SELECT source, reason, count(*), max(recorded_at)
FROM fingerprints
GROUP BY source, reason
`)
	metrics.ObserveNetworkRequest("postgres", "fingerprints_aggregate", "fingerprints", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.SourceStats)
	for rows.Next() {
		var (
			source, reason string
			count          int
			last           time.Time
		)
		if err := rows.Scan(&source, &reason, &count, &last); err != nil {
			return nil, err
		}
		parsed, err := domain.ParseReason(reason)
		if err != nil {
			return nil, err
		}
		mergeSourceStats(out, source, parsed, count, last.UTC())
	}
	return out, rows.Err()
}

// IncrementCounter увеличивает счётчик, создавая строку при первом обращении.
func (p *Postgres) IncrementCounter(ctx context.Context, name string, delta int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.db.Exec(ctx, `
INSERT INTO dedup_counters (name, value) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET value = dedup_counters.value + EXCLUDED.value
`, name, delta)
	metrics.ObserveNetworkRequest("postgres", "counters_increment", "dedup_counters", start, err)
	return err
}

// Counter читает значение счётчика.
func (p *Postgres) Counter(ctx context.Context, name string) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	var value int64
	err := p.db.QueryRow(ctx, `SELECT value FROM dedup_counters WHERE name=$1`, name).Scan(&value)
	metrics.ObserveNetworkRequest("postgres", "counters_get", "dedup_counters", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

func mergeSourceStats(out map[string]domain.SourceStats, source string, reason domain.DispositionReason, count int, last time.Time) {
	stats, ok := out[source]
	if !ok {
		stats = domain.SourceStats{ByReason: make(map[domain.DispositionReason]int)}
	}
	stats.Total += count
	stats.ByReason[reason] += count
	if last.After(stats.LastRecordedAt) {
		stats.LastRecordedAt = last
	}
	out[source] = stats
}

const draftColumns = `id, item, body, url, hashtags, length, status, post_id, last_error, created_at, updated_at`

func scanDraft(row pgx.Row) (domain.Draft, error) {
	var (
		d      domain.Draft
		item   []byte
		status string
	)
	if err := row.Scan(&d.ID, &item, &d.Tweet.Body, &d.Tweet.URL, &d.Tweet.Hashtags, &d.Length, &status,
		&d.PostID, &d.LastError, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Draft{}, err
	}
	if err := json.Unmarshal(item, &d.Item); err != nil {
		return domain.Draft{}, fmt.Errorf("decode draft item: %w", err)
	}
	d.Status = domain.DraftStatus(status)
	return d, nil
}

// CreateDraft сохраняет черновик.
func (p *Postgres) CreateDraft(ctx context.Context, d domain.Draft) error {
	item, err := json.Marshal(d.Item)
	if err != nil {
		return err
	}
	hashtags := d.Tweet.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err = p.db.Exec(ctx, `
INSERT INTO drafts (`+draftColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, d.ID, item, d.Tweet.Body, d.Tweet.URL, hashtags, d.Length, string(d.Status), d.PostID, d.LastError, d.CreatedAt, d.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "drafts_insert", "drafts", start, err)
	return err
}

// GetDraft возвращает черновик по идентификатору.
func (p *Postgres) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	d, err := scanDraft(p.db.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "drafts_get", "drafts", start, nil)
		return domain.Draft{}, domain.ErrDraftNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "drafts_get", "drafts", start, err)
	return d, err
}

// ListDrafts возвращает последние черновики в статусе status.
func (p *Postgres) ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.db.Query(ctx, `SELECT `+draftColumns+` FROM drafts WHERE status=$1 ORDER BY created_at DESC LIMIT $2`, string(status), limit)
	metrics.ObserveNetworkRequest("postgres", "drafts_list", "drafts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TransitionDraft меняет статус одним условным UPDATE, поэтому из двух
// конкурирующих переходов проходит только один.
func (p *Postgres) TransitionDraft(ctx context.Context, id string, from []domain.DraftStatus, to domain.DraftStatus) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	start := time.Now()
	res, err := p.db.Exec(ctx, `
UPDATE drafts SET status=$2, updated_at=now()
WHERE id=$1 AND status = ANY($3)
`, id, string(to), allowed)
	metrics.ObserveNetworkRequest("postgres", "drafts_transition", "drafts", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrDraftNotPending
	}
	return nil
}

// UpdateDraftStatus меняет статус черновика.
func (p *Postgres) UpdateDraftStatus(ctx context.Context, id string, status domain.DraftStatus, postID, lastError string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.db.Exec(ctx, `
UPDATE drafts SET status=$2, post_id=$3, last_error=$4, updated_at=now()
WHERE id=$1
`, id, string(status), postID, lastError)
	metrics.ObserveNetworkRequest("postgres", "drafts_update_status", "drafts", start, err)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrDraftNotFound
	}
	return nil
}
