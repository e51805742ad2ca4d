package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

const (
	reasonURL     = "URL already processed"
	reasonTitle   = "Title already processed"
	reasonFuzzy   = "Very similar title"
	reasonContent = "Similar content"

	duplicatesCounter = "duplicates_detected"
)

// ErrEmptyItem возвращается, если у материала нет ни заголовка, ни ссылки.
var ErrEmptyItem = errors.New("у материала нет ни заголовка, ни ссылки")

// Detector ищет повторы среди уже обработанных материалов.
type Detector struct {
	store domain.FingerprintStore
	cache domain.WindowCache
	log   zerolog.Logger
	now   func() time.Time
}

// NewDetector создаёт детектор. cache может быть nil.
func NewDetector(store domain.FingerprintStore, cache domain.WindowCache, logger zerolog.Logger) *Detector {
	return &Detector{store: store, cache: cache, log: logger, now: time.Now}
}

// IsDuplicate проверяет материал. Ошибки хранилища не блокируют конвейер:
// материал считается новым, а сбой пишется в лог.
func (d *Detector) IsDuplicate(ctx context.Context, item domain.ContentItem, cfg domain.SimilarityConfig) domain.DuplicateResult {
	fp := Compute(item)

	if fp.URLHash != "" {
		_, found, err := d.store.FindByHash(ctx, domain.HashURL, fp.URLHash)
		if err != nil {
			return d.failOpen(item, "find_by_url", err)
		}
		if found {
			return d.duplicate(ctx, "url", reasonURL, 1)
		}
	}
	if fp.TitleHash != "" {
		_, found, err := d.store.FindByHash(ctx, domain.HashTitle, fp.TitleHash)
		if err != nil {
			return d.failOpen(item, "find_by_title", err)
		}
		if found {
			return d.duplicate(ctx, "title", reasonTitle, 1)
		}
	}

	window := cfg.Window()
	if window <= 0 {
		window = domain.DefaultSimilarityConfig().Window()
	}
	records, err := d.windowRecords(ctx, window)
	if err != nil {
		return d.failOpen(item, "list_window", err)
	}
	since := d.now().Add(-window)

	tokens := titleTokens(item.Title)
	var contentSet map[string]struct{}
	checkContent := fp.ContentSample != "" && cfg.ContentSimilarityThreshold > 0
	if checkContent {
		contentSet = shingles(fp.ContentSample)
	}

	bestTitle, bestContent := 0.0, 0.0
	titleHit, contentHit := false, false
	for _, rec := range records {
		if rec.RecordedAt.Before(since) {
			continue
		}
		if rec.TitleHash == "" && rec.URLHash == "" {
			d.log.Debug().Str("record_id", rec.ID).Msg("dedup: пропускаем запись без отпечатков")
			continue
		}
		if common, ratio := titleOverlap(tokens, titleTokens(rec.Title)); common >= minCommonTokens {
			titleHit = true
			if ratio > bestTitle {
				bestTitle = ratio
			}
		}
		if !checkContent || rec.ContentHash == "" {
			continue
		}
		if rec.ContentHash == fp.ContentHash {
			contentHit, bestContent = true, 1
			continue
		}
		if score := jaccard(contentSet, shingles(rec.ContentSample)); score >= cfg.ContentSimilarityThreshold {
			contentHit = true
			if score > bestContent {
				bestContent = score
			}
		}
	}

	if titleHit {
		return d.duplicate(ctx, "fuzzy_title", reasonFuzzy, bestTitle)
	}
	if contentHit {
		return d.duplicate(ctx, "content", reasonContent, bestContent)
	}
	return domain.DuplicateResult{}
}

// RecordProcessed сохраняет отпечатки материала. Повторная запись той же пары
// (заголовок, ссылка) ничего не меняет.
func (d *Detector) RecordProcessed(ctx context.Context, item domain.ContentItem, reason domain.DispositionReason) error {
	fp := Compute(item)
	if fp.TitleHash == "" && fp.URLHash == "" {
		return ErrEmptyItem
	}
	exists, err := d.store.HasPair(ctx, fp.TitleHash, fp.URLHash)
	if err != nil {
		return storageError("has_pair", err)
	}
	if exists {
		return nil
	}
	if err := d.store.Insert(ctx, newRecord(item, fp, reason, d.now())); err != nil {
		return storageError("insert", err)
	}
	if d.cache != nil {
		d.cache.Invalidate(ctx)
	}
	metrics.FingerprintsRecorded.WithLabelValues(string(reason)).Inc()
	return nil
}

// Stats агрегирует записи по источникам.
func (d *Detector) Stats(ctx context.Context) (domain.DedupStats, error) {
	bySource, err := d.store.AggregateBySource(ctx)
	if err != nil {
		return domain.DedupStats{}, storageError("aggregate", err)
	}
	duplicates, err := d.store.Counter(ctx, duplicatesCounter)
	if err != nil {
		return domain.DedupStats{}, storageError("counter", err)
	}
	stats := domain.DedupStats{
		DuplicatesDetected: duplicates,
		BySource:           bySource,
		UniqueSources:      make([]string, 0, len(bySource)),
	}
	for source, s := range bySource {
		stats.TotalProcessed += s.Total
		stats.UniqueSources = append(stats.UniqueSources, source)
	}
	sort.Strings(stats.UniqueSources)
	return stats, nil
}

// Cleanup удаляет записи старше olderThanDays дней и возвращает их число.
func (d *Detector) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, fmt.Errorf("некорректный срок хранения: %d", olderThanDays)
	}
	cutoff := d.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	removed, err := d.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, storageError("delete_older_than", err)
	}
	if removed > 0 && d.cache != nil {
		d.cache.Invalidate(ctx)
	}
	metrics.FingerprintsRemoved.Add(float64(removed))
	d.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("dedup: очистка отпечатков")
	return removed, nil
}

func (d *Detector) windowRecords(ctx context.Context, window time.Duration) ([]domain.FingerprintRecord, error) {
	if d.cache == nil {
		return d.store.ListRecordedSince(ctx, d.now().Add(-window))
	}
	if records, ok := d.cache.Get(ctx, window); ok {
		return records, nil
	}
	version := d.cache.Version(ctx)
	records, err := d.store.ListRecordedSince(ctx, d.now().Add(-window))
	if err != nil {
		return nil, err
	}
	d.cache.Set(ctx, window, version, records)
	return records, nil
}

func (d *Detector) duplicate(ctx context.Context, kind, reason string, similarity float64) domain.DuplicateResult {
	// Счётчик общий для процессов; его сбой не меняет ответ.
	if err := d.store.IncrementCounter(ctx, duplicatesCounter, 1); err != nil {
		d.log.Warn().Err(err).Str("kind", kind).Msg("dedup: не удалось увеличить счётчик дублей")
	}
	metrics.DuplicatesDetected.WithLabelValues(kind).Inc()
	return domain.DuplicateResult{IsDuplicate: true, Reason: reason, Similarity: similarity}
}

func (d *Detector) failOpen(item domain.ContentItem, op string, err error) domain.DuplicateResult {
	metrics.DedupFailOpen.Inc()
	d.log.Warn().Err(err).Str("op", op).Str("url", item.URL).Msg("dedup: проверка недоступна, пропускаем материал как новый")
	return domain.DuplicateResult{}
}

func storageError(op string, err error) error {
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}
