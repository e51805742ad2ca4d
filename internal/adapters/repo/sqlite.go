package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

// SQLite реализует хранилище отпечатков и черновиков для одиночного узла.
type SQLite struct {
	db *sql.DB
}

var (
	_ domain.FingerprintStore = (*SQLite)(nil)
	_ domain.DraftRepo        = (*SQLite)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	id             TEXT PRIMARY KEY,
	title_hash     TEXT NOT NULL DEFAULT '',
	url_hash       TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	content_sample TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL,
	recorded_at    INTEGER NOT NULL,
	UNIQUE (title_hash, url_hash)
);
CREATE INDEX IF NOT EXISTS fingerprints_title_hash_idx ON fingerprints (title_hash);
CREATE INDEX IF NOT EXISTS fingerprints_url_hash_idx ON fingerprints (url_hash);
CREATE INDEX IF NOT EXISTS fingerprints_content_hash_idx ON fingerprints (content_hash);
CREATE INDEX IF NOT EXISTS fingerprints_recorded_at_idx ON fingerprints (recorded_at);

CREATE TABLE IF NOT EXISTS drafts (
	id         TEXT PRIMARY KEY,
	item       TEXT NOT NULL,
	body       TEXT NOT NULL,
	url        TEXT NOT NULL DEFAULT '',
	hashtags   TEXT NOT NULL DEFAULT '[]',
	length     INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	post_id    TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS drafts_status_created_idx ON drafts (status, created_at);

CREATE TABLE IF NOT EXISTS dedup_counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
`

// OpenSQLite открывает файл базы и создаёт схему.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Один писатель: modernc sqlite не любит параллельные транзакции на одном файле.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close закрывает соединение.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFingerprint(row scanner) (domain.FingerprintRecord, error) {
	var (
		rec        domain.FingerprintRecord
		reason     string
		recordedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.TitleHash, &rec.URLHash, &rec.ContentHash, &rec.ContentSample,
		&rec.Title, &rec.Source, &reason, &recordedAt); err != nil {
		return domain.FingerprintRecord{}, err
	}
	parsed, err := domain.ParseReason(reason)
	if err != nil {
		return domain.FingerprintRecord{}, err
	}
	rec.Reason = parsed
	rec.RecordedAt = fromMillis(recordedAt)
	return rec, nil
}

// Insert сохраняет отпечаток, повтор пары игнорируется.
func (s *SQLite) Insert(ctx context.Context, rec domain.FingerprintRecord) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO fingerprints (`+fingerprintColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (title_hash, url_hash) DO NOTHING
`, rec.ID, rec.TitleHash, rec.URLHash, rec.ContentHash, rec.ContentSample, rec.Title, rec.Source, string(rec.Reason), toMillis(rec.RecordedAt))
	metrics.ObserveNetworkRequest("sqlite", "fingerprints_insert", "fingerprints", start, err)
	return err
}

// FindByHash ищет самую раннюю запись с отпечатком.
func (s *SQLite) FindByHash(ctx context.Context, kind domain.HashKind, hash string) (domain.FingerprintRecord, bool, error) {
	column, err := hashColumn(kind)
	if err != nil {
		return domain.FingerprintRecord{}, false, err
	}
	if hash == "" {
		return domain.FingerprintRecord{}, false, nil
	}
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `SELECT `+fingerprintColumns+` FROM fingerprints WHERE `+column+`=? ORDER BY recorded_at LIMIT 1`, hash)
	rec, err := scanSQLiteFingerprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveNetworkRequest("sqlite", "fingerprints_find_"+string(kind), "fingerprints", start, nil)
		return domain.FingerprintRecord{}, false, nil
	}
	metrics.ObserveNetworkRequest("sqlite", "fingerprints_find_"+string(kind), "fingerprints", start, err)
	if err != nil {
		return domain.FingerprintRecord{}, false, err
	}
	return rec, true, nil
}

// HasPair проверяет наличие пары отпечатков.
func (s *SQLite) HasPair(ctx context.Context, titleHash, urlHash string) (bool, error) {
	start := time.Now()
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(1) FROM fingerprints WHERE title_hash=? AND url_hash=?`, titleHash, urlHash).Scan(&n)
	metrics.ObserveNetworkRequest("sqlite", "fingerprints_has_pair", "fingerprints", start, err)
	return n > 0, err
}

// ListRecordedSince возвращает записи окна давности.
func (s *SQLite) ListRecordedSince(ctx context.Context, since time.Time) ([]domain.FingerprintRecord, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT `+fingerprintColumns+` FROM fingerprints WHERE recorded_at >= ? ORDER BY recorded_at DESC`, toMillis(since))
	metrics.ObserveNetworkRequest("sqlite", "fingerprints_list_window", "fingerprints", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FingerprintRecord
	for rows.Next() {
		rec, err := scanSQLiteFingerprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteOlderThan удаляет записи старше cutoff.
func (s *SQLite) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE recorded_at < ?`, toMillis(cutoff))
	metrics.ObserveNetworkRequest("sqlite", "fingerprints_delete_old", "fingerprints", start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IncrementCounter увеличивает счётчик, создавая строку при первом обращении.
func (s *SQLite) IncrementCounter(ctx context.Context, name string, delta int64) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dedup_counters (name, value) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET value = value + excluded.value`, name, delta)
	metrics.ObserveNetworkRequest("sqlite", "counters_increment", "dedup_counters", start, err)
	return err
}

// Counter читает значение счётчика.
func (s *SQLite) Counter(ctx context.Context, name string) (int64, error) {
	start := time.Now()
	var value int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM dedup_counters WHERE name=?`, name).Scan(&value)
	metrics.ObserveNetworkRequest("sqlite", "counters_get", "dedup_counters", start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

// AggregateBySource считает записи по источникам и причинам.
func (s *SQLite) AggregateBySource(ctx context.Context) (map[string]domain.SourceStats, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT source, reason, count(*), max(recorded_at) FROM fingerprints GROUP BY source, reason`)
	metrics.ObserveNetworkRequest("sqlite", "fingerprints_aggregate", "fingerprints", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.SourceStats)
	for rows.Next() {
		var (
			source, reason string
			count          int
			last           int64
		)
		if err := rows.Scan(&source, &reason, &count, &last); err != nil {
			return nil, err
		}
		parsed, err := domain.ParseReason(reason)
		if err != nil {
			return nil, err
		}
		mergeSourceStats(out, source, parsed, count, fromMillis(last))
	}
	return out, rows.Err()
}

func scanSQLiteDraft(row scanner) (domain.Draft, error) {
	var (
		d                    domain.Draft
		item, tags, status   string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&d.ID, &item, &d.Tweet.Body, &d.Tweet.URL, &tags, &d.Length, &status,
		&d.PostID, &d.LastError, &createdAt, &updatedAt); err != nil {
		return domain.Draft{}, err
	}
	if err := json.Unmarshal([]byte(item), &d.Item); err != nil {
		return domain.Draft{}, fmt.Errorf("decode draft item: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &d.Tweet.Hashtags); err != nil {
		return domain.Draft{}, fmt.Errorf("decode draft hashtags: %w", err)
	}
	d.Status = domain.DraftStatus(status)
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return d, nil
}

// CreateDraft сохраняет черновик.
func (s *SQLite) CreateDraft(ctx context.Context, d domain.Draft) error {
	item, err := json.Marshal(d.Item)
	if err != nil {
		return err
	}
	hashtags := d.Tweet.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}
	tags, err := json.Marshal(hashtags)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO drafts (`+draftColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, d.ID, string(item), d.Tweet.Body, d.Tweet.URL, string(tags), d.Length, string(d.Status), d.PostID, d.LastError,
		toMillis(d.CreatedAt), toMillis(d.UpdatedAt))
	metrics.ObserveNetworkRequest("sqlite", "drafts_insert", "drafts", start, err)
	return err
}

// GetDraft возвращает черновик по идентификатору.
func (s *SQLite) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	start := time.Now()
	d, err := scanSQLiteDraft(s.db.QueryRowContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		metrics.ObserveNetworkRequest("sqlite", "drafts_get", "drafts", start, nil)
		return domain.Draft{}, domain.ErrDraftNotFound
	}
	metrics.ObserveNetworkRequest("sqlite", "drafts_get", "drafts", start, err)
	return d, err
}

// ListDrafts возвращает последние черновики в статусе status.
func (s *SQLite) ListDrafts(ctx context.Context, status domain.DraftStatus, limit int) ([]domain.Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT `+draftColumns+` FROM drafts WHERE status=? ORDER BY created_at DESC LIMIT ?`, string(status), limit)
	metrics.ObserveNetworkRequest("sqlite", "drafts_list", "drafts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Draft
	for rows.Next() {
		d, err := scanSQLiteDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TransitionDraft меняет статус, только если текущий входит в from.
func (s *SQLite) TransitionDraft(ctx context.Context, id string, from []domain.DraftStatus, to domain.DraftStatus) error {
	if len(from) == 0 {
		return domain.ErrDraftNotPending
	}
	args := make([]any, 0, len(from)+3)
	args = append(args, string(to), toMillis(time.Now()), id)
	for _, st := range from {
		args = append(args, string(st))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")

	start := time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status=?, updated_at=? WHERE id=? AND status IN (`+placeholders+`)`, args...)
	metrics.ObserveNetworkRequest("sqlite", "drafts_transition", "drafts", start, err)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrDraftNotPending
	}
	return nil
}

// UpdateDraftStatus меняет статус черновика.
func (s *SQLite) UpdateDraftStatus(ctx context.Context, id string, status domain.DraftStatus, postID, lastError string) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `UPDATE drafts SET status=?, post_id=?, last_error=?, updated_at=? WHERE id=?`,
		string(status), postID, lastError, toMillis(time.Now()), id)
	metrics.ObserveNetworkRequest("sqlite", "drafts_update_status", "drafts", start, err)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrDraftNotFound
	}
	return nil
}
