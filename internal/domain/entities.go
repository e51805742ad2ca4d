package domain

import (
	"fmt"
	"strings"
	"time"
)

// ContentItem описывает кандидата на публикацию, полученного из источника.
type ContentItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Description string    `json:"description,omitempty"`
}

// DispositionReason фиксирует, чем закончилась обработка материала.
type DispositionReason string

const (
	// ReasonGenerated — по материалу сгенерирован черновик.
	ReasonGenerated DispositionReason = "generated"
	// ReasonApproved — черновик одобрен и опубликован.
	ReasonApproved DispositionReason = "approved"
	// ReasonRejected — черновик отклонён модерацией.
	ReasonRejected DispositionReason = "rejected"
	// ReasonUserRejected — пользователь отклонил материал вручную.
	ReasonUserRejected DispositionReason = "user_rejected"
)

// ParseReason разбирает причину, в том числе устаревшие значения вида tweet_generated.
func ParseReason(raw string) (DispositionReason, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.TrimPrefix(value, "tweet_")
	switch DispositionReason(value) {
	case ReasonGenerated, ReasonApproved, ReasonRejected, ReasonUserRejected:
		return DispositionReason(value), nil
	}
	return "", fmt.Errorf("unknown disposition reason %q", raw)
}

// HashKind задаёт вид отпечатка для поиска.
type HashKind string

const (
	HashTitle   HashKind = "title"
	HashURL     HashKind = "url"
	HashContent HashKind = "content"
)

// FingerprintRecord хранит отпечатки уже обработанного материала.
type FingerprintRecord struct {
	ID            string            `json:"id"`
	TitleHash     string            `json:"title_hash"`
	URLHash       string            `json:"url_hash"`
	ContentHash   string            `json:"content_hash,omitempty"`
	ContentSample string            `json:"content_sample,omitempty"`
	Title         string            `json:"title"`
	Source        string            `json:"source"`
	RecordedAt    time.Time         `json:"recorded_at"`
	Reason        DispositionReason `json:"reason"`
}

// SimilarityConfig задаёт пороги поиска дублей на один вызов.
type SimilarityConfig struct {
	TitleSimilarityThreshold   float64 `json:"title_similarity_threshold"`
	ContentSimilarityThreshold float64 `json:"content_similarity_threshold"`
	TimeWindowHours            float64 `json:"time_window_hours"`
}

// DefaultSimilarityConfig возвращает пороги по умолчанию.
func DefaultSimilarityConfig() SimilarityConfig {
	return SimilarityConfig{
		TitleSimilarityThreshold:   0.8,
		ContentSimilarityThreshold: 0.6,
		TimeWindowHours:            48,
	}
}

// Window возвращает окно давности как time.Duration.
func (c SimilarityConfig) Window() time.Duration {
	return time.Duration(c.TimeWindowHours * float64(time.Hour))
}

// DuplicateResult описывает результат проверки на дубль.
type DuplicateResult struct {
	IsDuplicate bool    `json:"is_duplicate"`
	Reason      string  `json:"reason,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
}

// SourceStats агрегирует записи одного источника.
type SourceStats struct {
	Total          int                       `json:"total"`
	ByReason       map[DispositionReason]int `json:"by_reason"`
	LastRecordedAt time.Time                 `json:"last_recorded_at"`
}

// DedupStats — сводка по хранилищу отпечатков.
type DedupStats struct {
	TotalProcessed     int                    `json:"total_processed"`
	DuplicatesDetected int64                  `json:"duplicates_detected"`
	UniqueSources      []string               `json:"unique_sources"`
	BySource           map[string]SourceStats `json:"by_source"`
}

// TweetDraft — текст поста, уложенный в бюджет символов.
type TweetDraft struct {
	Body     string   `json:"body"`
	URL      string   `json:"url,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// Text собирает итоговый текст публикации.
func (d TweetDraft) Text() string {
	var b strings.Builder
	b.WriteString(d.Body)
	if d.URL != "" {
		b.WriteString("\n\n")
		b.WriteString(d.URL)
	}
	if len(d.Hashtags) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(d.Hashtags, " "))
	}
	return b.String()
}

// DraftStatus — состояние черновика в очереди модерации.
type DraftStatus string

const (
	DraftPending     DraftStatus = "pending"
	DraftPosted      DraftStatus = "posted"
	DraftRejected    DraftStatus = "rejected"
	DraftNeedsReview DraftStatus = "needs_review"
	// DraftPublishing — черновик захвачен одобрением и уходит на площадку.
	DraftPublishing DraftStatus = "publishing"
)

// ReviewableStatuses — состояния, из которых черновик можно одобрить или отклонить.
var ReviewableStatuses = []DraftStatus{DraftPending, DraftNeedsReview}

// Draft — черновик, ожидающий решения модератора.
type Draft struct {
	ID        string      `json:"id"`
	Item      ContentItem `json:"item"`
	Tweet     TweetDraft  `json:"tweet"`
	Length    int         `json:"length"`
	Status    DraftStatus `json:"status"`
	PostID    string      `json:"post_id,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// PublishResult хранит ответ площадки на публикацию.
type PublishResult struct {
	ID string `json:"id"`
}
