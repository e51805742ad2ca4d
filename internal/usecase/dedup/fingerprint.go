package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"autopost/internal/domain"
)

const (
	contentSampleRunes = 200
	fingerprintHexLen  = 16
)

// Normalize приводит строку к виду для сравнения.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Fingerprint — единственная функция отпечатка в системе. Пустая строка даёт пустой отпечаток.
func Fingerprint(s string) string {
	if s == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:fingerprintHexLen]
}

// Fingerprints — набор отпечатков одного материала.
type Fingerprints struct {
	TitleHash     string
	URLHash       string
	ContentHash   string
	ContentSample string
}

// Compute строит отпечатки материала.
func Compute(item domain.ContentItem) Fingerprints {
	sample := contentSample(item.Description)
	return Fingerprints{
		TitleHash:     Fingerprint(Normalize(item.Title)),
		URLHash:       Fingerprint(Normalize(item.URL)),
		ContentHash:   Fingerprint(sample),
		ContentSample: sample,
	}
}

func contentSample(description string) string {
	normalized := Normalize(description)
	if normalized == "" {
		return ""
	}
	runes := []rune(normalized)
	if len(runes) > contentSampleRunes {
		runes = runes[:contentSampleRunes]
	}
	return string(runes)
}

func newRecord(item domain.ContentItem, fp Fingerprints, reason domain.DispositionReason, now time.Time) domain.FingerprintRecord {
	return domain.FingerprintRecord{
		ID:            uuid.NewString(),
		TitleHash:     fp.TitleHash,
		URLHash:       fp.URLHash,
		ContentHash:   fp.ContentHash,
		ContentSample: fp.ContentSample,
		Title:         strings.TrimSpace(item.Title),
		Source:        Normalize(item.Source),
		RecordedAt:    now.UTC(),
		Reason:        reason,
	}
}

// BatchSeen отсекает повторы внутри одной пачки, пока в хранилище ещё ничего
// не записано: совпадение ссылки или заголовка считается повтором.
type BatchSeen map[string]struct{}

// Seen отмечает материал и сообщает, встречался ли он в пачке раньше.
func (b BatchSeen) Seen(item domain.ContentItem) bool {
	fp := Compute(item)
	keys := make([]string, 0, 2)
	if fp.URLHash != "" {
		keys = append(keys, "u:"+fp.URLHash)
	}
	if fp.TitleHash != "" {
		keys = append(keys, "t:"+fp.TitleHash)
	}
	for _, k := range keys {
		if _, ok := b[k]; ok {
			return true
		}
	}
	for _, k := range keys {
		b[k] = struct{}{}
	}
	return false
}
