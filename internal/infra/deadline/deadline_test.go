package deadline

import (
	"context"
	"errors"
	"testing"
	"time"

	"autopost/internal/domain"
)

func TestCallReturnsValue(t *testing.T) {
	got, err := Call(context.Background(), time.Second, "echo", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got != "ok" {
		t.Fatalf("ожидали ok, получили %q", got)
	}
}

func TestCallTimesOutOnHangingCall(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	_, err := Call(context.Background(), 20*time.Millisecond, "hang", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("ожидали ErrTimeout, получили %v", err)
	}
	var te *domain.TimeoutError
	if !errors.As(err, &te) || te.Op != "hang" {
		t.Fatalf("ожидали TimeoutError с операцией hang, получили %#v", err)
	}
}

func TestCallMapsDeadlineFromCallee(t *testing.T) {
	err := Run(context.Background(), 20*time.Millisecond, "ctx-aware", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("ожидали ErrTimeout, получили %v", err)
	}
}

func TestCallKeepsParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, time.Second, "cancelled", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", err)
	}
	if errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("отмена родителя не должна считаться таймаутом")
	}
}

func TestCallPassesErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Run(context.Background(), time.Second, "fail", func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("ожидали исходную ошибку, получили %v", err)
	}
}
