package deadline

import (
	"context"
	"errors"
	"time"

	"autopost/internal/domain"
)

// Call выполняет fn с таймаутом d. При истечении времени возвращает *domain.TimeoutError,
// даже если fn не уважает контекст и продолжает работать в фоне.
func Call[T any](ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && callCtx.Err() != nil && ctx.Err() == nil {
			return zero, &domain.TimeoutError{Op: op, After: d}
		}
		return res.value, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &domain.TimeoutError{Op: op, After: d}
	}
}

// Run делает то же, что Call, для операций без результата.
func Run(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, d, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
