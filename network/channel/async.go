package channel

import (
	"context"

	"github.com/linchenxuan/conduit/lifecycle"
)

// TryAsync runs a try-style receive as a future.
func TryAsync[T any](ctx context.Context, fn func(context.Context) (T, bool, error)) *lifecycle.Future[Received[T]] {
	return lifecycle.Go(ctx, func(ctx context.Context) (Received[T], error) {
		v, ok, err := fn(ctx)
		return Received[T]{Value: v, OK: ok}, err
	})
}

// VoidAsync runs an operation without a result as a future.
func VoidAsync(ctx context.Context, fn func(context.Context) error) *lifecycle.Future[struct{}] {
	return lifecycle.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}
