package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"autopost/internal/domain"
	"autopost/internal/infra/metrics"
)

const memoryWindowSize = 16

// MemoryWindow держит выборку окна давности в памяти процесса.
type MemoryWindow struct {
	mu         sync.Mutex
	generation int64
	lru        *expirable.LRU[time.Duration, []domain.FingerprintRecord]
}

// NewMemoryWindow создаёт кэш с заданным TTL.
func NewMemoryWindow(ttl time.Duration) *MemoryWindow {
	return &MemoryWindow{lru: expirable.NewLRU[time.Duration, []domain.FingerprintRecord](memoryWindowSize, nil, ttl)}
}

// Get возвращает копию закэшированной выборки.
func (c *MemoryWindow) Get(_ context.Context, window time.Duration) ([]domain.FingerprintRecord, bool) {
	records, ok := c.lru.Get(window)
	if !ok {
		metrics.WindowCacheLookups.WithLabelValues("memory", "miss").Inc()
		return nil, false
	}
	metrics.WindowCacheLookups.WithLabelValues("memory", "hit").Inc()
	out := make([]domain.FingerprintRecord, len(records))
	copy(out, records)
	return out, true
}

// Version возвращает текущее поколение кэша.
func (c *MemoryWindow) Version(context.Context) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Set сохраняет выборку, если с момента Version кэш не сбрасывали.
func (c *MemoryWindow) Set(_ context.Context, window time.Duration, version int64, records []domain.FingerprintRecord) {
	stored := make([]domain.FingerprintRecord, len(records))
	copy(stored, records)
	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.generation {
		return
	}
	c.lru.Add(window, stored)
}

// Invalidate сбрасывает все выборки.
func (c *MemoryWindow) Invalidate(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.lru.Purge()
}
