package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"autopost/internal/domain"
)

func sampleRecords() []domain.FingerprintRecord {
	return []domain.FingerprintRecord{
		{ID: "1", TitleHash: "aaaa", URLHash: "bbbb", Title: "Go 1.30 released", Source: "hn", RecordedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Reason: domain.ReasonGenerated},
		{ID: "2", TitleHash: "cccc", URLHash: "dddd", Title: "Rust news", Source: "rss", RecordedAt: time.Date(2026, 1, 2, 4, 4, 5, 0, time.UTC), Reason: domain.ReasonApproved},
	}
}

func TestMemoryWindowRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryWindow(time.Minute)
	if _, ok := c.Get(ctx, 48*time.Hour); ok {
		t.Fatalf("пустой кэш не должен отдавать данные")
	}
	c.Set(ctx, 48*time.Hour, c.Version(ctx), sampleRecords())
	got, ok := c.Get(ctx, 48*time.Hour)
	if !ok || len(got) != 2 {
		t.Fatalf("ожидали две записи, получили %v ok=%v", got, ok)
	}
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("другое окно должно быть промахом")
	}
	got[0].Title = "changed"
	again, _ := c.Get(ctx, 48*time.Hour)
	if again[0].Title != "Go 1.30 released" {
		t.Fatalf("кэш должен отдавать копию")
	}
}

func TestMemoryWindowInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryWindow(time.Minute)
	c.Set(ctx, time.Hour, c.Version(ctx), sampleRecords())
	c.Invalidate(ctx)
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("после сброса ожидали промах")
	}
}

func TestMemoryWindowExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryWindow(20 * time.Millisecond)
	c.Set(ctx, time.Hour, c.Version(ctx), sampleRecords())
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("запись должна истечь")
	}
}

func newRedisWindow(t *testing.T) (*RedisWindow, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisWindow(client, time.Minute, zerolog.Nop()), srv
}

func TestRedisWindowRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisWindow(t)
	if _, ok := c.Get(ctx, 48*time.Hour); ok {
		t.Fatalf("пустой кэш не должен отдавать данные")
	}
	c.Set(ctx, 48*time.Hour, c.Version(ctx), sampleRecords())
	got, ok := c.Get(ctx, 48*time.Hour)
	if !ok || len(got) != 2 {
		t.Fatalf("ожидали две записи, получили %v ok=%v", got, ok)
	}
	if got[1].Reason != domain.ReasonApproved || !got[1].RecordedAt.Equal(sampleRecords()[1].RecordedAt) {
		t.Fatalf("запись искажена: %+v", got[1])
	}
}

func TestRedisWindowInvalidateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	c, srv := newRedisWindow(t)
	c.Set(ctx, time.Hour, c.Version(ctx), sampleRecords())
	c.Invalidate(ctx)
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("после сброса ожидали промах")
	}
	if v, err := srv.Get(c.versionKey()); err != nil || v != "1" {
		t.Fatalf("ожидали версию 1, получили %q (%v)", v, err)
	}
	c.Set(ctx, time.Hour, c.Version(ctx), sampleRecords()[:1])
	got, ok := c.Get(ctx, time.Hour)
	if !ok || len(got) != 1 {
		t.Fatalf("ожидали новую выборку из одной записи, получили %v", got)
	}
}

func TestRedisWindowTTL(t *testing.T) {
	ctx := context.Background()
	c, srv := newRedisWindow(t)
	c.Set(ctx, time.Hour, c.Version(ctx), sampleRecords())
	srv.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("запись должна истечь по TTL")
	}
}

func TestRedisWindowCorruptedValueIsMiss(t *testing.T) {
	ctx := context.Background()
	c, srv := newRedisWindow(t)
	key, err := c.dataKey(ctx, time.Hour)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := srv.Set(key, "{not json"); err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("повреждённое значение должно быть промахом")
	}
}

func TestRedisWindowUnavailableIsMiss(t *testing.T) {
	ctx := context.Background()
	c, srv := newRedisWindow(t)
	srv.Close()
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("недоступный Redis должен давать промах")
	}
	c.Set(ctx, time.Hour, c.Version(ctx), sampleRecords())
	c.Invalidate(ctx)
}

func TestMemoryWindowSkipsStaleSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryWindow(time.Minute)
	version := c.Version(ctx)
	c.Invalidate(ctx)
	c.Set(ctx, time.Hour, version, sampleRecords())
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("выборка, прочитанная до сброса, не должна попасть в кэш")
	}
	c.Set(ctx, time.Hour, c.Version(ctx), sampleRecords())
	if _, ok := c.Get(ctx, time.Hour); !ok {
		t.Fatalf("ожидали попадание для актуальной версии")
	}
}

func TestRedisWindowSkipsStaleSet(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisWindow(t)
	version := c.Version(ctx)
	c.Invalidate(ctx)
	c.Set(ctx, time.Hour, version, sampleRecords())
	if _, ok := c.Get(ctx, time.Hour); ok {
		t.Fatalf("выборка, прочитанная до сброса, не должна попасть в кэш")
	}
}
