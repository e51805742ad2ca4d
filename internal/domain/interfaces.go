package domain

import (
	"context"
	"time"
)

// FingerprintStore хранит отпечатки обработанных материалов.
type FingerprintStore interface {
	Insert(ctx context.Context, record FingerprintRecord) error
	// FindByHash возвращает первую запись с указанным отпечатком, ok=false если её нет.
	FindByHash(ctx context.Context, kind HashKind, hash string) (FingerprintRecord, bool, error)
	HasPair(ctx context.Context, titleHash, urlHash string) (bool, error)
	// ListRecordedSince отдаёт записи окна давности: RecordedAt >= since.
	ListRecordedSince(ctx context.Context, since time.Time) ([]FingerprintRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	AggregateBySource(ctx context.Context) (map[string]SourceStats, error)
	// IncrementCounter увеличивает общий для всех процессов счётчик name на delta.
	IncrementCounter(ctx context.Context, name string, delta int64) error
	// Counter возвращает значение счётчика, 0 если его ещё нет.
	Counter(ctx context.Context, name string) (int64, error)
}

// WindowCache кэширует выборку окна давности перед хранилищем.
type WindowCache interface {
	Get(ctx context.Context, window time.Duration) ([]FingerprintRecord, bool)
	// Version читается до запроса к хранилищу и передаётся в Set: выборка,
	// прочитанная до Invalidate, в кэш не попадёт. Отрицательное значение
	// означает, что кэш недоступен.
	Version(ctx context.Context) int64
	Set(ctx context.Context, window time.Duration, version int64, records []FingerprintRecord)
	Invalidate(ctx context.Context)
}

// TextCompletion вызывает генеративную модель.
type TextCompletion interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Publisher публикует готовый текст на площадке.
type Publisher interface {
	Publish(ctx context.Context, text string) (PublishResult, error)
}

// Source выгружает свежие материалы из внешнего источника.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]ContentItem, error)
}

// DraftRepo хранит черновики модерации.
type DraftRepo interface {
	CreateDraft(ctx context.Context, draft Draft) error
	GetDraft(ctx context.Context, id string) (Draft, error)
	ListDrafts(ctx context.Context, status DraftStatus, limit int) ([]Draft, error)
	UpdateDraftStatus(ctx context.Context, id string, status DraftStatus, postID, lastError string) error
	// TransitionDraft переводит черновик в to, только если его статус входит в from.
	// Если черновик уже в другом состоянии, возвращает ErrDraftNotPending.
	TransitionDraft(ctx context.Context, id string, from []DraftStatus, to DraftStatus) error
}
